package broker

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

const memoryQueueSize = 1024

// Memory 进程内实现，单实例部署与测试使用
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[*memorySubscription]struct{})}
}

type delivery struct {
	channel string
	payload []byte
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return context.Canceled
	}
	d := delivery{channel: channel, payload: append([]byte(nil), payload...)}
	for sub := range m.subs {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}
		select {
		case sub.queue <- d:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channels []string, h Handler) (Subscription, error) {
	sub := &memorySubscription{
		owner:    m,
		channels: lo.SliceToMap(channels, func(c string) (string, struct{}) { return c, struct{}{} }),
		queue:    make(chan delivery, memoryQueueSize),
		done:     make(chan struct{}),
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, context.Canceled
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		for {
			select {
			case d := <-sub.queue:
				h(ctx, d.channel, d.payload)
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	subs := lo.Keys(m.subs)
	m.closed = true
	m.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	return nil
}

type memorySubscription struct {
	owner    *Memory
	channels map[string]struct{}
	queue    chan delivery
	done     chan struct{}
	once     sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
	return nil
}
