package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis 基于 PUBLISH/SUBSCRIBE，客户端生命周期由调用方负责
type Redis struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

func NewRedis(rdb redis.UniversalClient, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, log: log}
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.rdb.Publish(ctx, channel, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, channels []string, h Handler) (Subscription, error) {
	ps := r.rdb.Subscribe(ctx, channels...)
	// 等首个确认，之后的 PUBLISH 一定能收到
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for m := range ps.Channel() {
			h(ctx, m.Channel, []byte(m.Payload))
		}
		r.log.Debug("[broker] redis subscription closed", zap.Strings("channels", channels))
	}()
	return sub, nil
}

func (r *Redis) Close() error { return nil }

type redisSubscription struct {
	ps   *redis.PubSub
	once sync.Once
	done chan struct{}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}
