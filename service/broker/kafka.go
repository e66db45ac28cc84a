package broker

import (
	"context"

	"gischat/service/kafka"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Kafka 所有频道共用一个 topic，频道作为 key（同频道同分区，保序）
type Kafka struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
}

func NewKafka(producer *kafka.Producer, consumer *kafka.Consumer) *Kafka {
	return &Kafka{producer: producer, consumer: consumer}
}

func (k *Kafka) Publish(_ context.Context, channel string, payload []byte) error {
	return k.producer.Send(channel, payload)
}

func (k *Kafka) Subscribe(ctx context.Context, channels []string, h Handler) (Subscription, error) {
	wanted := lo.SliceToMap(channels, func(c string) (string, struct{}) { return c, struct{}{} })
	stream, err := k.consumer.Subscribe(func(channel string, value []byte) {
		if _, ok := wanted[channel]; ok {
			h(ctx, channel, value)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "kafka subscribe")
	}
	return stream, nil
}

func (k *Kafka) Close() error {
	perr := k.producer.Close()
	cerr := k.consumer.Close()
	if perr != nil {
		return perr
	}
	return cerr
}
