package chat

import (
	"context"
	"net"
	"time"

	"gischat/module/message"
	"gischat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	PongWait   = 60 * time.Second
	PingPeriod = PongWait * 9 / 10
)

// ServeRoom GET /room/:room/ws
func (d *Dispatcher) ServeRoom(c *gin.Context) {
	room := c.Param("room")
	ws, err := Upgrade(c.Writer, c.Request)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		d.log.Info("[WS] upgrade failed", zap.String("room", room), zap.Error(err))
		return
	}
	conn := NewWsConn(d.ids.NextString(), ws, d.opts.WriteTimeout)

	ctx := c.Request.Context()
	client, err := d.Join(ctx, room, conn)
	if err != nil {
		// Join 已发送关闭帧
		if errs.Is(err, errs.ErrRoomNotFound) {
			d.log.Info("[WS] unknown room", zap.String("room", room))
		} else {
			d.log.Error("[WS] join failed", zap.String("room", room), zap.Error(err))
		}
		return
	}

	stopPing := make(chan struct{})
	go KeepAlive(conn, stopPing)

	d.readLoop(ctx, client, conn)
	close(stopPing)

	// ---- 退出阶段：请求上下文可能已取消，单独给收尾一个超时 ----
	leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Disconnect(leaveCtx, client); err != nil {
		d.log.Warn("[WS] disconnect cleanup failed", zap.String("room", room), zap.String("conn", client.ConnID), zap.Error(err))
	}
}

// readLoop 只读不写；单条消息出错不影响后续
func (d *Dispatcher) readLoop(ctx context.Context, client *Client, conn *WsConn) {
	ws := conn.Conn
	ws.SetReadLimit(d.opts.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			logReadError(d.log, client, rerr)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(PongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		if err := d.HandleFrame(ctx, client, data); err != nil {
			if errs.Is(err, errs.ErrBrokerUnavailable) {
				d.SendTo(client, message.NewUncompliant("Server error: broker unavailable"))
			}
			d.log.Info("[WS] frame not handled", zap.String("room", client.Room), zap.String("conn", client.ConnID), zap.Error(err))
		}
	}
}

func KeepAlive(conn *WsConn, stop <-chan struct{}) {
	t := time.NewTicker(PingPeriod)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

func logReadError(log *zap.Logger, c *Client, err error) {
	fields := []zap.Field{zap.String("room", c.Room), zap.String("conn", c.ConnID), zap.Error(err)}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Info("[WS] peer closed", fields...)
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		log.Info("[WS] read timeout", fields...)
	} else {
		log.Info("[WS] read err", fields...)
	}
}
