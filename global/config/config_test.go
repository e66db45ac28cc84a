package config

import (
	"os"
	"testing"
	"time"

	"gischat/tools/errs"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())

	cfg, err := Load()
	req.NoError(err)

	req.Equal([]string{"QGIS", "Geotribu"}, cfg.Channels)
	req.NotEmpty(cfg.InstanceID)
	req.Equal(8000, cfg.Port)
	req.Equal("localhost:6379", cfg.RedisAddr())
	req.Equal(BrokerRedis, cfg.Broker)
	req.Equal("gischat.rooms", cfg.KafkaTopic)
	req.Equal(int32(8), cfg.KafkaPartitions)
	req.Equal(5, cfg.MaxStoredMessages)
	req.Equal("YOLO", cfg.Rules)
	req.Equal(500, cfg.MaxGeojsonFeatures)
	req.Equal(int64(89478485), cfg.MaxImagePixels)
	req.Equal(30*time.Second, cfg.MatrixSyncTimeout)
	req.False(cfg.MatrixEnabled)
	req.False(cfg.ArchiveEnabled())
	req.Equal(32, cfg.Limits().MaxAuthorLength)
}

func TestLoadFromEnv(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())
	t.Setenv("CHANNELS", " QGIS , ,Lizmap,QGIS")
	t.Setenv("INSTANCE_ID", "prod-1")
	t.Setenv("BROKER", "NATS")
	t.Setenv("MATRIX_ENABLED", "true")
	t.Setenv("MAX_STORED_MESSAGES", "0")

	cfg, err := Load()
	req.NoError(err)
	req.Equal([]string{"QGIS", "Lizmap"}, cfg.Channels)
	req.Equal("prod-1", cfg.InstanceID)
	req.Equal(BrokerNats, cfg.Broker)
	req.True(cfg.MatrixEnabled)
	req.Zero(cfg.MaxStoredMessages)
}

func TestValidate(t *testing.T) {
	base := func() AppConfig {
		return AppConfig{
			Channels: []string{"QGIS"}, Port: 8000, Broker: BrokerMemory,
			MinAuthorLength: 3, MaxAuthorLength: 32, MaxMessageLength: 255,
			MaxImagePixels: 1 << 20,
		}
	}
	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"no rooms", func(c *AppConfig) { c.Channels = nil }},
		{"min above max", func(c *AppConfig) { c.MinAuthorLength = 40 }},
		{"negative history", func(c *AppConfig) { c.MaxStoredMessages = -1 }},
		{"no pixel cap", func(c *AppConfig) { c.MaxImagePixels = 0 }},
		{"bad port", func(c *AppConfig) { c.Port = 70000 }},
		{"unknown broker", func(c *AppConfig) { c.Broker = "rabbitmq" }},
		{"kafka without brokers", func(c *AppConfig) { c.Broker = BrokerKafka; c.KafkaTopic = "t"; c.KafkaPartitions = 1 }},
	}

	ok := base()
	require.NoError(t, ok.Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			require.True(t, errs.Is(c.Validate(), errs.ErrValidation))
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
