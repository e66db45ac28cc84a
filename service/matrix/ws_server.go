package matrix

import (
	"context"
	"encoding/json"
	"time"

	"gischat/module/message"
	"gischat/service/chat"
	"gischat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServeBridge GET /matrix/ws/:request_id
func (b *Bridge) ServeBridge(c *gin.Context) {
	requestID := c.Param("request_id")
	ws, err := chat.Upgrade(c.Writer, c.Request)
	if err != nil {
		b.log.Info("[matrix] upgrade failed", zap.String("request", requestID), zap.Error(err))
		return
	}
	conn := chat.NewWsConn(uuid.NewString(), ws, 0)
	ctx := c.Request.Context()

	sess, err := b.Claim(ctx, requestID, conn)
	if err != nil {
		b.log.Warn("[matrix] claim failed", zap.String("request", requestID), zap.Error(err))
		_ = conn.Close(websocket.ClosePolicyViolation, message.Reason(err))
		return
	}

	stopPing := make(chan struct{})
	go chat.KeepAlive(conn, stopPing)

	b.readLoop(ctx, sess, conn)
	close(stopPing)

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Release(releaseCtx, requestID); err != nil {
		b.log.Warn("[matrix] release failed", zap.String("request", requestID), zap.Error(err))
	}
	_ = conn.Close(websocket.CloseNormalClosure, "")
}

func (b *Bridge) readLoop(ctx context.Context, sess *Session, conn *chat.WsConn) {
	ws := conn.Conn
	_ = ws.SetReadDeadline(time.Now().Add(chat.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(chat.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			b.log.Info("[matrix] websocket closed", zap.String("request", sess.RequestID), zap.Error(err))
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(chat.PongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		text, err := b.decodeText(data)
		if err != nil {
			b.reply(conn, message.NewUncompliant(message.Reason(err)))
			continue
		}
		if err := b.ForwardToExternal(ctx, sess, text.Text, text.Author); err != nil {
			b.log.Warn("[matrix] forward failed", zap.String("request", sess.RequestID), zap.Error(err))
			b.reply(conn, message.NewUncompliant("Matrix error: "+message.Reason(err)))
		}
	}
}

// decodeText 入站帧一律按文本消息解析
func (b *Bridge) decodeText(data []byte) (*message.Text, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return nil, errs.ErrValidation.WrapMsg("Validation error: payload must be a JSON object")
	}
	payload["type"] = string(message.TypeText)
	msg, err := b.parser.Decode(payload)
	if err != nil {
		return nil, err
	}
	return msg.(*message.Text), nil
}

func (b *Bridge) reply(conn chat.Conn, msg message.Message) {
	raw, err := message.Marshal(msg)
	if err != nil {
		return
	}
	if err := conn.Send(raw); err != nil {
		b.log.Info("[matrix] reply failed", zap.String("conn", conn.ID()), zap.Error(err))
	}
}
