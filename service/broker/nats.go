package broker

import (
	"context"
	"sync"

	"gischat/service/natsx"

	"github.com/pkg/errors"
)

const subjectPrefix = "gischat"

// Nats 使用 NATS Core 作为房间广播通道，频道名映射为 subject
type Nats struct {
	mgr *natsx.NatsManager

	mu     sync.Mutex
	routes map[string]struct{}
}

func NewNats(mgr *natsx.NatsManager) *Nats {
	return &Nats{mgr: mgr, routes: make(map[string]struct{})}
}

func (n *Nats) ensureRoute(channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.routes[channel]; ok {
		return nil
	}
	if err := n.mgr.RegisterRoute(natsx.NatsxRoute{
		Biz:     channel,
		Subject: natsx.SubjectFor(subjectPrefix, channel),
	}); err != nil {
		return err
	}
	n.routes[channel] = struct{}{}
	return nil
}

func (n *Nats) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := n.ensureRoute(channel); err != nil {
		return err
	}
	return n.mgr.Publish(ctx, channel, payload, nil)
}

func (n *Nats) Subscribe(ctx context.Context, channels []string, h Handler) (Subscription, error) {
	sub := &natsSubscription{mgr: n.mgr}
	for _, channel := range channels {
		if err := n.ensureRoute(channel); err != nil {
			_ = sub.Close()
			return nil, err
		}
		err := n.mgr.Subscribe(ctx, channel, func(ctx context.Context, msg natsx.NatsxMessage) error {
			h(ctx, msg.Biz, msg.Data)
			return nil
		})
		if err != nil {
			_ = sub.Close()
			return nil, errors.Wrapf(err, "subscribe %s", channel)
		}
		sub.bizs = append(sub.bizs, channel)
	}
	if err := n.mgr.Flush(); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

func (n *Nats) Close() error { return n.mgr.Close() }

type natsSubscription struct {
	mgr  *natsx.NatsManager
	bizs []string
}

func (s *natsSubscription) Close() error {
	var first error
	for _, biz := range s.bizs {
		if err := s.mgr.Unsubscribe(biz); err != nil && first == nil {
			first = err
		}
	}
	s.bizs = nil
	return first
}
