package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config 房间广播用的 Kafka 配置：所有房间共用一个 topic，按频道做 key
type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32 // 单机=1~8
	ReplicationFactor int16 // 单机=1；生产=3
	ProducerRetries   int
	Compression       string // none/snappy/lz4/zstd
	ClientID          string
	Version           sarama.KafkaVersion
}

func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"127.0.0.1:9092"},
		Topic:             "gischat.rooms",
		Partitions:        8,
		ReplicationFactor: 1,
		ProducerRetries:   5,
		Compression:       "snappy",
		ClientID:          "gischat",
		Version:           sarama.V2_1_0_0,
	}
}

// BuildConfig sarama 配置；同步生产者要求 Return.Successes
func BuildConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.Version
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = max(c.ProducerRetries, 1)
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区：同一房间落同一分区，保证顺序
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// 每个实例都要收到全部广播，不用消费组，直接从最新位置读
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
