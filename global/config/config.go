package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gischat/module/message"
	"gischat/tools/errs"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	BrokerRedis  = "redis"
	BrokerNats   = "nats"
	BrokerMemory = "memory"
	BrokerKafka  = "kafka"
)

// AppConfig 进程配置，全部来自环境变量
type AppConfig struct {
	Channels   []string `envconfig:"CHANNELS" default:"QGIS,Geotribu"`
	InstanceID string   `envconfig:"INSTANCE_ID"` // 为空时生成 UUID
	Port       int      `envconfig:"PORT" default:"8000"`
	LogLevel   string   `envconfig:"LOG_LEVEL" default:"info"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	Broker      string   `envconfig:"BROKER" default:"redis"`
	NatsServers []string `envconfig:"NATS_SERVERS" default:"nats://127.0.0.1:4222"`
	NatsName    string   `envconfig:"NATS_NAME" default:"gischat"`

	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS" default:"127.0.0.1:9092"`
	KafkaTopic       string   `envconfig:"KAFKA_TOPIC" default:"gischat.rooms"`
	KafkaPartitions  int32    `envconfig:"KAFKA_PARTITIONS" default:"8"`
	KafkaReplication int16    `envconfig:"KAFKA_REPLICATION" default:"1"`

	MaxStoredMessages  int      `envconfig:"MAX_STORED_MESSAGES" default:"5"`
	Rules              string   `envconfig:"RULES" default:"YOLO"`
	MainLang           string   `envconfig:"MAIN_LANG" default:"en"`
	MinAuthorLength    int      `envconfig:"MIN_AUTHOR_LENGTH" default:"3"`
	MaxAuthorLength    int      `envconfig:"MAX_AUTHOR_LENGTH" default:"32"`
	MaxMessageLength   int      `envconfig:"MAX_MESSAGE_LENGTH" default:"255"`
	MaxImageSize       int      `envconfig:"MAX_IMAGE_SIZE" default:"800"`
	MaxImagePixels     int64    `envconfig:"MAX_IMAGE_PIXELS" default:"89478485"`
	MaxGeojsonFeatures int      `envconfig:"MAX_GEOJSON_FEATURES" default:"500"`
	CheatCodes         []string `envconfig:"CHEAT_CODES" default:"givemesomecheese,iamarobot,its_pizza_time"`

	MatrixEnabled     bool          `envconfig:"MATRIX_ENABLED" default:"false"`
	MatrixSyncTimeout time.Duration `envconfig:"MATRIX_SYNC_TIMEOUT" default:"30s"`

	ArchiveDatabaseURL string `envconfig:"ARCHIVE_DATABASE_URL"`
	SendQueueSize      int    `envconfig:"SEND_QUEUE_SIZE" default:"64"`
}

// Load 先读可选的 .env，再读环境变量
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	trim := func(in []string) []string {
		out := lo.Map(in, func(s string, _ int) string { return strings.TrimSpace(s) })
		return lo.Uniq(lo.Compact(out))
	}
	c.Channels = trim(c.Channels)
	c.CheatCodes = trim(c.CheatCodes)
	c.NatsServers = trim(c.NatsServers)
	c.KafkaBrokers = trim(c.KafkaBrokers)
	c.Broker = strings.ToLower(strings.TrimSpace(c.Broker))
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
}

func (c *AppConfig) Validate() error {
	invalid := func(msg string, kv ...any) error {
		return errs.ErrValidation.WrapMsg("invalid config: "+msg, kv...)
	}
	if len(c.Channels) == 0 {
		return invalid("CHANNELS must list at least one room")
	}
	if c.MinAuthorLength < 1 || c.MinAuthorLength > c.MaxAuthorLength {
		return invalid("author length bounds", "min", c.MinAuthorLength, "max", c.MaxAuthorLength)
	}
	if c.MaxMessageLength < 1 {
		return invalid("MAX_MESSAGE_LENGTH must be positive", "value", c.MaxMessageLength)
	}
	if c.MaxStoredMessages < 0 {
		return invalid("MAX_STORED_MESSAGES must not be negative", "value", c.MaxStoredMessages)
	}
	if c.MaxImagePixels < 1 {
		return invalid("MAX_IMAGE_PIXELS must be positive", "value", c.MaxImagePixels)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return invalid("PORT out of range", "value", c.Port)
	}
	if !lo.Contains([]string{BrokerRedis, BrokerNats, BrokerMemory, BrokerKafka}, c.Broker) {
		return invalid("unknown BROKER", "value", c.Broker)
	}
	if c.Broker == BrokerKafka && (len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" || c.KafkaPartitions < 1) {
		return invalid("kafka broker needs KAFKA_BROKERS, KAFKA_TOPIC and KAFKA_PARTITIONS")
	}
	return nil
}

func (c *AppConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func (c *AppConfig) Limits() message.Limits {
	return message.Limits{
		MinAuthorLength:  c.MinAuthorLength,
		MaxAuthorLength:  c.MaxAuthorLength,
		MaxMessageLength: c.MaxMessageLength,
	}
}

func (c *AppConfig) ArchiveEnabled() bool {
	return c.ArchiveDatabaseURL != ""
}
