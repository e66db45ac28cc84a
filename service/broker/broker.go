package broker

import "context"

// Handler 投递回调；同一频道内串行调用，顺序与 broker 一致
type Handler func(ctx context.Context, channel string, payload []byte)

// Subscription 已生效的订阅
type Subscription interface {
	Close() error
}

// PubSub 跨实例的房间广播通道
type PubSub interface {
	// Publish fire-and-forget，不保证送达
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe 返回时订阅已在服务端生效
	Subscribe(ctx context.Context, channels []string, h Handler) (Subscription, error)
	Close() error
}
