package chat

import (
	"sync"
)

// Client 一条本地连接 + 可选昵称 + 独立发送队列（由单个写协程消费）
type Client struct {
	ConnID string
	Room   string

	conn Conn
	send chan []byte

	mu       sync.RWMutex
	nickname string

	done      chan struct{}
	closeOnce sync.Once
	leaveOnce sync.Once
}

func newClient(room string, conn Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: conn.ID(),
		Room:   room,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) Nickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

func (c *Client) setNickname(n string) {
	c.mu.Lock()
	c.nickname = n
	c.mu.Unlock()
}

// enqueue 不阻塞；队列满或已关闭返回 false
func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// writePump 写协程，写失败回调 onFail 后退出
func (c *Client) writePump(onFail func(*Client, error)) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			if err := c.conn.Send(b); err != nil {
				onFail(c, err)
				return
			}
		}
	}
}

func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}
