package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gischat/global/config"
	"gischat/logger"
	"gischat/module/message"
	"gischat/service/api"
	"gischat/service/archive"
	"gischat/service/broker"
	"gischat/service/chat"
	"gischat/service/kafka"
	"gischat/service/matrix"
	"gischat/service/natsx"
	"gischat/service/storage"
	redisx "gischat/service/storage/redis"
	"gischat/tools/imaging"
	"gischat/tools/safe"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the chat relay HTTP/websocket server",
	Long: `Run the chat relay server.

Configuration is read from the environment (and an optional .env file).
Every instance sharing the same INSTANCE_ID and broker behaves as one chat fabric.`,
	RunE: runServer,
}

var (
	flagLogLevel string
	flagPort     int
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "override LOG_LEVEL")
	serverCmd.Flags().IntVar(&flagPort, "port", 0, "override PORT")
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}

	log := logger.New(cfg.LogLevel).With(zap.String("instance", cfg.InstanceID))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("[boot] init failed", zap.Error(err))
		return err
	}
	defer app.close()
	return app.run(ctx)
}

// app 组装根：所有依赖在这里创建一次，显式传下去
type app struct {
	cfg    *config.AppConfig
	log    *zap.Logger
	closes []func()

	dispatcher *chat.Dispatcher
	bridge     *matrix.Bridge
	http       *http.Server
}

func newApp(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	rdb, err := redisx.NewClient(ctx, redisx.Config{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = rdb.Close() })

	pubsub, err := newPubSub(cfg, rdb, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.onClose(func() { _ = pubsub.Close() })

	parser := message.NewParser(cfg.Limits())
	store := storage.NewRoomStore(storage.RoomStoreConfig{
		InstanceID:        cfg.InstanceID,
		MaxStoredMessages: cfg.MaxStoredMessages,
	}, rdb, pubsub, parser, log)

	deps := chat.Deps{
		Store:    store,
		PubSub:   pubsub,
		Parser:   parser,
		Shrinker: imaging.NewShrinker(cfg.MaxImageSize, cfg.MaxImagePixels),
		Log:      log,
	}
	if cfg.ArchiveEnabled() {
		arch, pool, err := archive.Open(ctx, cfg.ArchiveDatabaseURL, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.onClose(pool.Close)
		deps.Archiver = arch
	}
	a.dispatcher = chat.NewDispatcher(chat.Options{
		Rooms:              cfg.Channels,
		CheatCodes:         cfg.CheatCodes,
		MaxGeojsonFeatures: cfg.MaxGeojsonFeatures,
		SendQueueSize:      cfg.SendQueueSize,
		InstanceID:         cfg.InstanceID,
	}, deps)

	if cfg.MatrixEnabled {
		a.bridge = matrix.NewBridge(matrix.Options{SyncTimeout: cfg.MatrixSyncTimeout}, matrix.Deps{
			Store:   storage.NewBridgeRequestStore(cfg.InstanceID, rdb),
			Factory: matrix.NewMautrixFactory(log),
			Parser:  parser,
			Log:     log,
		})
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.NewServer(api.Options{
		Version:       Version,
		MatrixEnabled: cfg.MatrixEnabled,
		Rules: api.Rules{
			Rules:              cfg.Rules,
			MainLang:           cfg.MainLang,
			MinAuthorLength:    cfg.MinAuthorLength,
			MaxAuthorLength:    cfg.MaxAuthorLength,
			MaxMessageLength:   cfg.MaxMessageLength,
			MaxImageSize:       cfg.MaxImageSize,
			MaxGeojsonFeatures: cfg.MaxGeojsonFeatures,
		},
	}, a.dispatcher, a.bridge, log)
	a.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func newPubSub(cfg *config.AppConfig, rdb redis.UniversalClient, log *zap.Logger) (broker.PubSub, error) {
	switch cfg.Broker {
	case config.BrokerNats:
		mgr, err := natsx.NewNatsManager(natsx.NatsxConfig{
			Servers: cfg.NatsServers,
			Name:    cfg.NatsName,
		}, natsx.Recover(), natsx.Logging(log))
		if err != nil {
			return nil, errors.Wrap(err, "connect nats")
		}
		return broker.NewNats(mgr), nil
	case config.BrokerKafka:
		return newKafkaPubSub(cfg, log)
	case config.BrokerMemory:
		log.Warn("[boot] memory broker: instances will not see each other")
		return broker.NewMemory(), nil
	default:
		return broker.NewRedis(rdb, log), nil
	}
}

func newKafkaPubSub(cfg *config.AppConfig, log *zap.Logger) (broker.PubSub, error) {
	kc := kafka.DefaultConfig()
	kc.Brokers = cfg.KafkaBrokers
	kc.Topic = cfg.KafkaTopic
	kc.Partitions = cfg.KafkaPartitions
	kc.ReplicationFactor = cfg.KafkaReplication
	kc.ClientID = "gischat-" + cfg.InstanceID

	client, err := sarama.NewClient(kc.Brokers, kafka.BuildConfig(kc))
	if err != nil {
		return nil, errors.Wrap(err, "connect kafka")
	}
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "kafka admin")
	}
	if err := kafka.EnsureTopic(admin, kc, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "kafka producer")
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = sp.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "kafka consumer")
	}
	return broker.NewKafka(kafka.NewProducer(sp, kc.Topic), kafka.NewConsumer(consumer, kc.Topic, log)), nil
}

func (a *app) onClose(f func()) { a.closes = append(a.closes, f) }

// close 逆序释放
func (a *app) close() {
	for i := len(a.closes) - 1; i >= 0; i-- {
		a.closes[i]()
	}
	a.closes = nil
}

func (a *app) run(ctx context.Context) error {
	listenErr := make(chan error, 1)
	dispatchDone := make(chan error, 1)

	safe.Go(a.log, "dispatcher", func() { dispatchDone <- a.dispatcher.Run(ctx) })
	safe.Go(a.log, "http", func() {
		a.log.Info("[HTTP] listening", zap.String("addr", a.http.Addr), zap.Strings("rooms", a.cfg.Channels),
			zap.String("broker", a.cfg.Broker), zap.Bool("matrix", a.cfg.MatrixEnabled))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("[boot] shutting down")
	case runErr = <-listenErr:
		a.log.Error("[HTTP] listen failed", zap.Error(runErr))
	case runErr = <-dispatchDone:
		if runErr != nil {
			a.log.Error("[chat] dispatcher stopped", zap.Error(runErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("[HTTP] shutdown", zap.Error(err))
	}
	if a.bridge != nil {
		a.bridge.Close(shutdownCtx)
	}
	return runErr
}
