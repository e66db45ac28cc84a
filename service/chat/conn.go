package chat

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 本地连接的最小抽象，便于替换传输层与单测
type Conn interface {
	ID() string
	Send(data []byte) error
	Close(code int, reason string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Upgrade 升级为 websocket
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// WsConn gorilla 连接适配；Send 加锁，可被多个协程调用
type WsConn struct {
	SnowID       string
	Conn         *websocket.Conn
	Remote       string
	CreatedAt    time.Time
	WriteTimeout time.Duration

	mu sync.Mutex
}

func NewWsConn(snowID string, ws *websocket.Conn, writeTimeout time.Duration) *WsConn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WsConn{
		SnowID:       snowID,
		Conn:         ws,
		Remote:       ws.RemoteAddr().String(),
		CreatedAt:    time.Now(),
		WriteTimeout: writeTimeout,
	}
}

func (w *WsConn) ID() string { return w.SnowID }

func (w *WsConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.Conn.SetWriteDeadline(time.Now().Add(w.WriteTimeout)); err != nil {
		return err
	}
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

// Ping WriteControl 本身允许与 WriteMessage 并发
func (w *WsConn) Ping() error {
	return w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.WriteTimeout))
}

// 关闭帧 payload 上限 125 字节，减去 2 字节状态码
const maxCloseReason = 123

// Close 先发关闭帧再断开；对端已断开时忽略关闭帧错误
func (w *WsConn) Close(code int, reason string) error {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	_ = w.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return w.Conn.Close()
}
