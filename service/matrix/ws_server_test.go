package matrix

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newBridgeServer(t *testing.T, h *harness) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/matrix/ws/:request_id", h.bridge.ServeBridge)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServeBridgeUnknownRequest(t *testing.T) {
	h := newHarness(t)
	base := newBridgeServer(t, h)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/matrix/ws/missing", nil)
	require.NoError(t, err)
	defer ws.Close()

	_, _, err = ws.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	require.Equal(t, "Matrix request 'missing' does not exist.", ce.Text)
}

func TestServeBridgeRoundTrip(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	base := newBridgeServer(t, h)
	id := h.register(t)

	ws, _, err := websocket.DefaultDialer.Dial(base+"/matrix/ws/"+id, nil)
	req.NoError(err)

	// Given 会话已建立
	req.Eventually(func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)
	client := h.lastClient()

	// When 发送一条合法文本和一条非法文本
	req.NoError(ws.WriteJSON(map[string]any{"author": "alice", "text": "from qgis"}))
	req.NoError(ws.WriteJSON(map[string]any{"author": "x", "text": "too short author"}))

	// Then 合法的转发到外部，非法的只回复发送方
	req.Eventually(func() bool { return len(client.sentTexts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	req.Equal("from qgis", client.sentTexts()[0])

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	req.NoError(ws.ReadJSON(&reply))
	req.Equal("uncompliant", reply["type"])
	req.Contains(reply["reason"], "Validation error: author")

	// 断开后请求被删除、外部客户端被关闭
	req.NoError(ws.Close())
	req.Eventually(func() bool { return client.closeCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	has, err := h.bridge.HasRequest(context.Background(), id)
	req.NoError(err)
	req.False(has)
}
