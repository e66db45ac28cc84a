package matrix

import (
	"context"
	"sync"
	"time"

	"gischat/service/storage"
	"gischat/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// TextHandler 外部房间收到一条文本
type TextHandler func(author, body string)

// ExternalClient 外部聊天网络的一个已登录身份，只关心一个房间的文本
type ExternalClient interface {
	Login(ctx context.Context) error
	JoinRoom(ctx context.Context) error
	OnText(h TextHandler)
	// StartSync 后台同步；首次同步完成或等待超时即返回，超时不算失败
	StartSync(ctx context.Context, wait time.Duration) error
	SendText(ctx context.Context, body string) error
	Close(ctx context.Context) error
}

// ClientFactory 按注册凭据创建客户端（尚未登录）
type ClientFactory func(creds storage.BridgeRequest) (ExternalClient, error)

// NewMautrixFactory 生产实现
func NewMautrixFactory(log *zap.Logger) ClientFactory {
	return func(creds storage.BridgeRequest) (ExternalClient, error) {
		cli, err := mautrix.NewClient(creds.Homeserver, "", "")
		if err != nil {
			return nil, errors.Wrap(err, "new matrix client")
		}
		return &mautrixClient{
			creds:  creds,
			cli:    cli,
			roomID: id.RoomID(creds.RoomID),
			log:    log.With(zap.String("homeserver", creds.Homeserver), zap.String("matrix_room", creds.RoomID)),
		}, nil
	}
}

type mautrixClient struct {
	creds  storage.BridgeRequest
	cli    *mautrix.Client
	roomID id.RoomID
	log    *zap.Logger

	mu     sync.Mutex
	onText TextHandler
	cancel context.CancelFunc
	done   chan struct{}
}

func (m *mautrixClient) Login(ctx context.Context) error {
	_, err := m.cli.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: m.creds.User,
		},
		Password:         m.creds.Password,
		DeviceID:         id.DeviceID(m.creds.DeviceID),
		StoreCredentials: true,
	})
	if err != nil {
		return errors.Wrap(err, "matrix login")
	}
	m.log.Info("[matrix] logged in", zap.String("user", m.cli.UserID.String()))
	return nil
}

func (m *mautrixClient) JoinRoom(ctx context.Context) error {
	if _, err := m.cli.JoinRoomByID(ctx, m.roomID); err != nil {
		return errors.Wrap(err, "matrix join room")
	}
	return nil
}

func (m *mautrixClient) OnText(h TextHandler) {
	m.mu.Lock()
	m.onText = h
	m.mu.Unlock()
}

func (m *mautrixClient) handler() TextHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onText
}

func (m *mautrixClient) StartSync(ctx context.Context, wait time.Duration) error {
	syncer, ok := m.cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("unexpected matrix syncer")
	}

	firstSync := make(chan struct{})
	var once sync.Once
	syncer.OnSync(m.cli.DontProcessOldEvents)
	syncer.OnSync(func(_ context.Context, _ *mautrix.RespSync, _ string) bool {
		once.Do(func() { close(firstSync) })
		return true
	})
	syncer.OnEventType(event.EventMessage, m.handleMessage)

	syncCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	failed := make(chan error, 1)
	m.mu.Lock()
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	safe.Go(m.log, "matrix-sync", func() {
		defer close(done)
		if err := m.cli.SyncWithContext(syncCtx); err != nil && syncCtx.Err() == nil {
			m.log.Warn("[matrix] sync stopped", zap.Error(err))
			failed <- err
		}
	})

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-firstSync:
		return nil
	case <-timer.C:
		m.log.Info("[matrix] initial sync still running", zap.Duration("waited", wait))
		return nil
	case err := <-failed:
		return errors.Wrap(err, "matrix initial sync")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mautrixClient) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.RoomID != m.roomID {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	h := m.handler()
	if h == nil {
		return
	}
	h(m.displayName(ctx, evt.Sender), content.Body)
}

func (m *mautrixClient) displayName(ctx context.Context, user id.UserID) string {
	resp, err := m.cli.GetDisplayName(ctx, user)
	if err != nil || resp == nil || resp.DisplayName == "" {
		return user.Localpart()
	}
	return resp.DisplayName
}

func (m *mautrixClient) SendText(ctx context.Context, body string) error {
	if _, err := m.cli.SendText(ctx, m.roomID, body); err != nil {
		return errors.Wrap(err, "matrix send text")
	}
	return nil
}

// Close 停止同步并注销设备
func (m *mautrixClient) Close(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	m.cli.StopSync()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	if _, err := m.cli.Logout(ctx); err != nil {
		return errors.Wrap(err, "matrix logout")
	}
	return nil
}
