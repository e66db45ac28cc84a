package kafka

import (
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopic 不存在就创建；已存在且分区数不足时扩分区（Kafka 只能增加分区）
func EnsureTopic(admin sarama.ClusterAdmin, c Config, log *zap.Logger) error {
	descs, err := admin.DescribeTopics([]string{c.Topic})
	if err != nil {
		return fmt.Errorf("describe topic %s: %w", c.Topic, err)
	}
	exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

	if !exists {
		td := &sarama.TopicDetail{
			NumPartitions:     c.Partitions,
			ReplicationFactor: c.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"retention.ms":                   strPtr("3600000"), // 广播只需短期保留，历史在 redis
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(c.Topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				log.Info("[kafka] topic exists (race)", zap.String("topic", c.Topic))
				return nil
			}
			return fmt.Errorf("create topic %s: %w", c.Topic, err)
		}
		log.Info("[kafka] topic created", zap.String("topic", c.Topic),
			zap.Int32("partitions", c.Partitions), zap.Int16("rf", c.ReplicationFactor))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if c.Partitions > cur {
		if err := admin.CreatePartitions(c.Topic, c.Partitions, nil, false); err != nil {
			return fmt.Errorf("expand partitions %s from %d to %d: %w", c.Topic, cur, c.Partitions, err)
		}
		log.Info("[kafka] partitions expanded", zap.String("topic", c.Topic), zap.Int32("from", cur), zap.Int32("to", c.Partitions))
		return nil
	}
	log.Info("[kafka] topic exists", zap.String("topic", c.Topic), zap.Int32("partitions", cur))
	return nil
}

func strPtr(s string) *string { return &s }
