package matrix

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gischat/module/message"
	"gischat/service/chat"
	"gischat/service/storage"
	"gischat/tools/errs"
	"gischat/tools/safe"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// RequestStore 注册请求的共享存储，生产实现为 storage.BridgeRequestStore
type RequestStore interface {
	SaveRequest(ctx context.Context, id string, req storage.BridgeRequest) error
	LoadRequest(ctx context.Context, id string) (storage.BridgeRequest, bool, error)
	HasRequest(ctx context.Context, id string) (bool, error)
	DeleteRequest(ctx context.Context, id string) error
	MarkClaimed(ctx context.Context, id, owner string) (bool, error)
	UnmarkClaimed(ctx context.Context, id string) error
}

type Options struct {
	SyncTimeout time.Duration
}

type Deps struct {
	Store   RequestStore
	Factory ClientFactory
	Parser  *message.Parser
	Log     *zap.Logger
}

// Session 一条 websocket 与一个已登录的外部客户端
type Session struct {
	RequestID string
	conn      chat.Conn
	client    ExternalClient
}

// Bridge 管理注册请求与活跃会话
// 请求状态：Pending（已注册）-> Active（已被 websocket 占用）-> Closed（删除）
type Bridge struct {
	opts    Options
	store   RequestStore
	factory ClientFactory
	parser  *message.Parser
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewBridge(opts Options, deps Deps) *Bridge {
	safe.MustNotNil(deps.Store, "request store")
	safe.MustNotNil(deps.Factory, "client factory")
	safe.MustNotNil(deps.Parser, "parser")
	safe.MustNotNil(deps.Log, "logger")
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return &Bridge{
		opts:     opts,
		store:    deps.Store,
		factory:  deps.Factory,
		parser:   deps.Parser,
		log:      deps.Log,
		sessions: make(map[string]*Session),
	}
}

// RegisterRequest 只保存凭据，不做校验；登录推迟到 Claim
func (b *Bridge) RegisterRequest(ctx context.Context, creds storage.BridgeRequest) (string, error) {
	if creds.DeviceID == "" {
		creds.DeviceID = lo.RandomString(10, lo.UpperCaseLettersCharset)
	}
	requestID := uuid.NewString()
	if err := b.store.SaveRequest(ctx, requestID, creds); err != nil {
		return "", err
	}
	b.log.Info("[matrix] request registered", zap.String("request", requestID),
		zap.String("homeserver", creds.Homeserver), zap.String("matrix_room", creds.RoomID))
	return requestID, nil
}

func (b *Bridge) HasRequest(ctx context.Context, requestID string) (bool, error) {
	return b.store.HasRequest(ctx, requestID)
}

func (b *Bridge) notFound(requestID string) error {
	return errs.ErrBridgeRequestNotFound.WrapMsg(fmt.Sprintf("Matrix request '%s' does not exist.", requestID))
}

// Claim 登录 + 加入房间 + 初始同步；同一请求只能被占用一次
func (b *Bridge) Claim(ctx context.Context, requestID string, conn chat.Conn) (*Session, error) {
	creds, ok, err := b.store.LoadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, b.notFound(requestID)
	}

	sess := &Session{RequestID: requestID, conn: conn}
	b.mu.Lock()
	if _, taken := b.sessions[requestID]; taken {
		b.mu.Unlock()
		return nil, b.alreadyClaimed(requestID)
	}
	b.sessions[requestID] = sess
	b.mu.Unlock()

	fail := func(err error) (*Session, error) {
		b.mu.Lock()
		delete(b.sessions, requestID)
		b.mu.Unlock()
		return nil, err
	}

	// 跨实例占用
	marked, err := b.store.MarkClaimed(ctx, requestID, conn.ID())
	if errs.Is(err, errs.ErrBridgeRequestNotFound) {
		return fail(b.notFound(requestID))
	}
	if err != nil {
		return fail(err)
	}
	if !marked {
		return fail(b.alreadyClaimed(requestID))
	}

	client, err := b.connect(ctx, creds, sess)
	if err != nil {
		if uerr := b.store.UnmarkClaimed(ctx, requestID); uerr != nil {
			b.log.Warn("[matrix] unclaim failed", zap.String("request", requestID), zap.Error(uerr))
		}
		return fail(errs.ErrBridgeAuthFailure.WrapMsg(err.Error()))
	}

	b.mu.Lock()
	sess.client = client
	b.mu.Unlock()
	b.log.Info("[matrix] request claimed", zap.String("request", requestID), zap.String("conn", conn.ID()))
	return sess, nil
}

func (b *Bridge) alreadyClaimed(requestID string) error {
	return errs.ErrBridgeAlreadyClaimed.WrapMsg(fmt.Sprintf("Matrix request '%s' is already in use.", requestID))
}

func (b *Bridge) connect(ctx context.Context, creds storage.BridgeRequest, sess *Session) (ExternalClient, error) {
	client, err := b.factory(creds)
	if err != nil {
		return nil, err
	}
	client.OnText(func(author, body string) { b.deliver(sess, author, body) })

	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	steps := []func(context.Context) error{
		client.JoinRoom,
		func(ctx context.Context) error { return client.StartSync(ctx, b.opts.SyncTimeout) },
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = client.Close(closeCtx)
			cancel()
			return nil, err
		}
	}
	return client, nil
}

// deliver 外部消息 -> websocket
func (b *Bridge) deliver(sess *Session, author, body string) {
	b.log.Info("[matrix] inbound", zap.String("request", sess.RequestID), zap.String("author", author))
	raw, err := message.Marshal(message.NewText(author, body))
	if err != nil {
		b.log.Error("[matrix] marshal failed", zap.Error(err))
		return
	}
	if err := sess.conn.Send(raw); err != nil {
		b.log.Warn("[matrix] push to websocket failed", zap.String("request", sess.RequestID), zap.Error(err))
	}
}

// ForwardToExternal websocket -> 外部房间；错误交给调用方转成 Uncompliant
func (b *Bridge) ForwardToExternal(ctx context.Context, sess *Session, text, author string) error {
	b.mu.Lock()
	client := sess.client
	b.mu.Unlock()
	if client == nil {
		return b.notFound(sess.RequestID)
	}
	if err := client.SendText(ctx, text); err != nil {
		return err
	}
	b.log.Info("[matrix] outbound", zap.String("request", sess.RequestID), zap.String("author", author))
	return nil
}

// Release 删除请求、解除会话并注销外部客户端；可重复调用
func (b *Bridge) Release(ctx context.Context, requestID string) error {
	var client ExternalClient
	b.mu.Lock()
	if sess, ok := b.sessions[requestID]; ok {
		client = sess.client
	}
	delete(b.sessions, requestID)
	b.mu.Unlock()

	err := b.store.DeleteRequest(ctx, requestID)
	if client != nil {
		if cerr := client.Close(ctx); cerr != nil {
			b.log.Warn("[matrix] close external client failed", zap.String("request", requestID), zap.Error(cerr))
		}
	}
	b.log.Info("[matrix] request released", zap.String("request", requestID))
	return err
}

// Close 进程退出时释放所有会话
func (b *Bridge) Close(ctx context.Context) {
	b.mu.Lock()
	ids := lo.Keys(b.sessions)
	b.mu.Unlock()
	for _, requestID := range ids {
		if err := b.Release(ctx, requestID); err != nil {
			b.log.Warn("[matrix] release on shutdown failed", zap.String("request", requestID), zap.Error(err))
		}
	}
}
