package chat

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// ConnManager 本实例的房间 -> 连接表，房间集合在构造时固定
type ConnManager struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client // room -> (connID -> client)
}

func NewConnManager(rooms []string) *ConnManager {
	m := &ConnManager{rooms: make(map[string]map[string]*Client, len(rooms))}
	for _, r := range rooms {
		m.rooms[r] = make(map[string]*Client)
	}
	return m
}

func (m *ConnManager) HasRoom(room string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room]
	return ok
}

// Add 房间未注册返回 false
func (m *ConnManager) Add(c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[c.Room]
	if !ok {
		return false
	}
	set[c.ConnID] = c
	return true
}

// Remove 返回是否确实移除了（幂等）
func (m *ConnManager) Remove(c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[c.Room]
	if !ok {
		return false
	}
	if cur, ok := set[c.ConnID]; !ok || cur != c {
		return false
	}
	delete(set, c.ConnID)
	return true
}

// Clients 快照，调用方可在锁外逐个发送
func (m *ConnManager) Clients(room string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Values(m.rooms[room])
}

func (m *ConnManager) Count(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room])
}

// Close 关闭全部本地连接（进程退出时）
func (m *ConnManager) Close() {
	m.mu.Lock()
	all := make([]*Client, 0)
	for room, set := range m.rooms {
		all = append(all, lo.Values(set)...)
		m.rooms[room] = make(map[string]*Client)
	}
	m.mu.Unlock()

	for _, c := range all {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}
