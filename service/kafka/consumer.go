package kafka

import (
	"sync"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Consumer 广播消费：订阅 topic 的全部分区
type Consumer struct {
	c     sarama.Consumer
	topic string
	log   *zap.Logger
}

func NewConsumer(c sarama.Consumer, topic string, log *zap.Logger) *Consumer {
	return &Consumer{c: c, topic: topic, log: log}
}

// Stream 一次订阅；Close 后不再回调
type Stream struct {
	pcs  []sarama.PartitionConsumer
	wg   sync.WaitGroup
	once sync.Once
}

// Subscribe 各分区的位置在返回前已确定，之后发布的消息都能收到
func (c *Consumer) Subscribe(h MessageHandler) (*Stream, error) {
	partitions, err := c.c.Partitions(c.topic)
	if err != nil {
		return nil, errors.Wrapf(err, "kafka partitions topic=%s", c.topic)
	}
	s := &Stream{}
	for _, p := range partitions {
		pc, err := c.c.ConsumePartition(c.topic, p, sarama.OffsetNewest)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrapf(err, "kafka consume topic=%s partition=%d", c.topic, p)
		}
		s.pcs = append(s.pcs, pc)
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			for msg := range pc.Messages() {
				h(channelOf(msg), msg.Value)
			}
		}()
		go func(partition int32) {
			defer s.wg.Done()
			for err := range pc.Errors() {
				c.log.Warn("[kafka] consume error", zap.String("topic", c.topic), zap.Int32("partition", partition), zap.Error(err))
			}
		}(p)
	}
	return s, nil
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		for _, pc := range s.pcs {
			pc.AsyncClose()
		}
		s.wg.Wait()
	})
	return nil
}

func (c *Consumer) Close() error { return c.c.Close() }
