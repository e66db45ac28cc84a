package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// Producer 同步生产者：Send 返回即已被集群确认
type Producer struct {
	sp    sarama.SyncProducer
	topic string
}

func NewProducer(sp sarama.SyncProducer, topic string) *Producer {
	return &Producer{sp: sp, topic: topic}
}

func (p *Producer) Send(channel string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(channel),
		Value:   sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{{Key: []byte(channelHeader), Value: []byte(channel)}},
	}
	if _, _, err := p.sp.SendMessage(msg); err != nil {
		return errors.Wrapf(err, "kafka send topic=%s channel=%s", p.topic, channel)
	}
	return nil
}

func (p *Producer) Close() error { return p.sp.Close() }
