package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gischat/module/message"
	"gischat/service/storage"
	"gischat/tools/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ===== fakes =====

type fakeClient struct {
	mu       sync.Mutex
	creds    storage.BridgeRequest
	loginErr error
	sendErr  error
	onText   TextHandler
	sent     []string
	closed   int
}

func (f *fakeClient) Login(context.Context) error { return f.loginErr }

func (f *fakeClient) JoinRoom(context.Context) error { return nil }

func (f *fakeClient) OnText(h TextHandler) {
	f.mu.Lock()
	f.onText = h
	f.mu.Unlock()
}

func (f *fakeClient) StartSync(context.Context, time.Duration) error { return nil }

func (f *fakeClient) SendText(_ context.Context, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeClient) Close(context.Context) error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

// emit 模拟外部房间来了一条消息
func (f *fakeClient) emit(author, body string) {
	f.mu.Lock()
	h := f.onText
	f.mu.Unlock()
	h(author, body)
}

func (f *fakeClient) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeClient) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(b []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, b)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(int, string) error { return nil }

func (c *fakeConn) decoded() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, b := range c.frames {
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		out = append(out, m)
	}
	return out
}

type harness struct {
	bridge   *Bridge
	store    *storage.BridgeRequestStore
	mu       sync.Mutex
	clients  []*fakeClient
	loginErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{store: storage.NewBridgeRequestStore("iid", rdb)}
	factory := func(creds storage.BridgeRequest) (ExternalClient, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		fc := &fakeClient{creds: creds, loginErr: h.loginErr}
		h.clients = append(h.clients, fc)
		return fc, nil
	}
	h.bridge = NewBridge(Options{SyncTimeout: time.Second}, Deps{
		Store:   h.store,
		Factory: factory,
		Parser:  message.NewParser(message.DefaultLimits()),
		Log:     zaptest.NewLogger(t),
	})
	return h
}

func (h *harness) lastClient() *fakeClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[len(h.clients)-1]
}

func (h *harness) register(t *testing.T) string {
	t.Helper()
	id, err := h.bridge.RegisterRequest(context.Background(), storage.BridgeRequest{
		Homeserver: "https://matrix.example.org",
		RoomID:     "!room:example.org",
		User:       "jane",
		Password:   "secret",
	})
	require.NoError(t, err)
	return id
}

// ===== tests =====

func TestRegisterRequestDefaultsDeviceID(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	id := h.register(t)

	stored, ok, err := h.store.LoadRequest(ctx, id)
	req.NoError(err)
	req.True(ok)
	req.Len(stored.DeviceID, 10)
	req.Equal("jane", stored.User)

	has, err := h.bridge.HasRequest(ctx, id)
	req.NoError(err)
	req.True(has)
}

func TestClaimForwardsBothDirections(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t)
	conn := &fakeConn{id: "ws-1"}

	sess, err := h.bridge.Claim(ctx, id, conn)
	req.NoError(err)
	client := h.lastClient()
	req.Equal("!room:example.org", client.creds.RoomID)

	// websocket -> 外部
	req.NoError(h.bridge.ForwardToExternal(ctx, sess, "hello matrix", "alice"))
	req.Equal([]string{"hello matrix"}, client.sentTexts())

	// 外部 -> websocket
	client.emit("Jane Doe", "hello qgis")
	frames := conn.decoded()
	req.Len(frames, 1)
	req.Equal("text", frames[0]["type"])
	req.Equal("Jane Doe", frames[0]["author"])
	req.Equal("hello qgis", frames[0]["text"])
	req.NotEmpty(frames[0]["id"])
}

func TestSecondClaimIsRejected(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t)

	_, err := h.bridge.Claim(ctx, id, &fakeConn{id: "ws-1"})
	req.NoError(err)

	_, err = h.bridge.Claim(ctx, id, &fakeConn{id: "ws-2"})
	req.True(errs.Is(err, errs.ErrBridgeAlreadyClaimed))
	req.Len(h.clients, 1)
}

func TestClaimUnknownRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.bridge.Claim(context.Background(), "missing", &fakeConn{id: "ws"})
	require.True(t, errs.Is(err, errs.ErrBridgeRequestNotFound))
}

func TestClaimLoginFailureReleasesSlot(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t)

	// Given 登录失败
	h.loginErr = errors.New("M_FORBIDDEN: invalid password")
	_, err := h.bridge.Claim(ctx, id, &fakeConn{id: "ws-1"})
	req.True(errs.Is(err, errs.ErrBridgeAuthFailure))
	req.Contains(err.Error(), "invalid password")

	// When 凭据修正后重试
	h.loginErr = nil
	_, err = h.bridge.Claim(ctx, id, &fakeConn{id: "ws-2"})

	// Then 请求仍可被占用
	req.NoError(err)
}

func TestForwardFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t)
	sess, err := h.bridge.Claim(ctx, id, &fakeConn{id: "ws"})
	require.NoError(t, err)

	h.lastClient().sendErr = errors.New("network down")
	err = h.bridge.ForwardToExternal(ctx, sess, "hi", "alice")
	require.ErrorContains(t, err, "network down")
}

func TestReleaseIsIdempotent(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	id := h.register(t)
	_, err := h.bridge.Claim(ctx, id, &fakeConn{id: "ws"})
	req.NoError(err)
	client := h.lastClient()

	req.NoError(h.bridge.Release(ctx, id))
	req.NoError(h.bridge.Release(ctx, id))

	req.Equal(1, client.closeCount())
	has, err := h.bridge.HasRequest(ctx, id)
	req.NoError(err)
	req.False(has)

	_, err = h.bridge.Claim(ctx, id, &fakeConn{id: "ws-2"})
	req.True(errs.Is(err, errs.ErrBridgeRequestNotFound))
}
