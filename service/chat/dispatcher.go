package chat

import (
	"context"
	"fmt"
	"time"

	"gischat/module/message"
	"gischat/service/broker"
	"gischat/tools/errs"
	"gischat/tools/ids"
	"gischat/tools/safe"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Store 房间共享状态，生产实现为 storage.RoomStore
type Store interface {
	ChannelKey(room string) string
	IncrementUsers(ctx context.Context, room string) (int64, error)
	DecrementUsers(ctx context.Context, room string) (int64, error)
	NbUsers(ctx context.Context, room string) (int64, error)
	RegisterNickname(ctx context.Context, room, nickname string) error
	UnregisterNickname(ctx context.Context, room, nickname string) error
	ListNicknames(ctx context.Context, room string) ([]string, error)
	IsNicknamePresent(ctx context.Context, room, nickname string) (bool, error)
	AppendMessage(ctx context.Context, room string, msg message.Message) error
	ListMessages(ctx context.Context, room string) ([]message.Message, error)
	Publish(ctx context.Context, room string, msg message.Message) error
}

// ImageShrinker 图片缩放
type ImageShrinker interface {
	ShrinkBase64(data string) (string, error)
}

// Archiver 可选的持久化归档
type Archiver interface {
	Archive(ctx context.Context, room string, msg message.Message) error
}

type Options struct {
	Rooms              []string
	CheatCodes         []string
	MaxGeojsonFeatures int
	SendQueueSize      int
	WriteTimeout       time.Duration
	MaxFrameSize       int64
	InstanceID         string
}

type Deps struct {
	Store    Store
	PubSub   broker.PubSub
	Parser   *message.Parser
	Shrinker ImageShrinker
	Archiver Archiver // 可为 nil
	Log      *zap.Logger
}

// RoomSnapshot 房间当前状态
type RoomSnapshot struct {
	NbUsers   int64
	Nicknames []string
	Messages  []message.Message
}

// Dispatcher 房间调度：本地连接表 + 共享状态 + 跨实例广播
type Dispatcher struct {
	opts  Options
	conns *ConnManager
	ids   *ids.Node
	cheat map[string]struct{}

	store    Store
	pubsub   broker.PubSub
	parser   *message.Parser
	shrinker ImageShrinker
	archiver Archiver
	log      *zap.Logger
}

func NewDispatcher(opts Options, deps Deps) *Dispatcher {
	safe.MustNotNil(deps.Store, "store")
	safe.MustNotNil(deps.PubSub, "pubsub")
	safe.MustNotNil(deps.Parser, "parser")
	safe.MustNotNil(deps.Shrinker, "shrinker")
	safe.MustNotNil(deps.Log, "logger")
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 16 << 20
	}
	return &Dispatcher{
		opts:     opts,
		conns:    NewConnManager(opts.Rooms),
		ids:      ids.NodeFromString(opts.InstanceID),
		cheat:    lo.SliceToMap(opts.CheatCodes, func(s string) (string, struct{}) { return s, struct{}{} }),
		store:    deps.Store,
		pubsub:   deps.PubSub,
		parser:   deps.Parser,
		shrinker: deps.Shrinker,
		archiver: deps.Archiver,
		log:      deps.Log,
	}
}

func (d *Dispatcher) Rooms() []string { return append([]string(nil), d.opts.Rooms...) }

func (d *Dispatcher) HasRoom(room string) bool { return d.conns.HasRoom(room) }

func (d *Dispatcher) roomNotFound(room string) error {
	return errs.ErrRoomNotFound.WrapMsg(fmt.Sprintf("Room '%s' not registered", room))
}

// Accept 只登记到本地连接表
func (d *Dispatcher) Accept(room string, conn Conn) (*Client, error) {
	c, err := d.admit(room, conn)
	if err != nil {
		return nil, err
	}
	go c.writePump(d.onSendFailure)
	return c, nil
}

func (d *Dispatcher) admit(room string, conn Conn) (*Client, error) {
	c := newClient(room, conn, d.opts.SendQueueSize)
	if !d.conns.Add(c) {
		return nil, d.roomNotFound(room)
	}
	return c, nil
}

// Join 接入 + 计数 + 广播人数 + 回放历史（只发给新连接）。
// 失败时由 Join 负责关闭 conn。
func (d *Dispatcher) Join(ctx context.Context, room string, conn Conn) (*Client, error) {
	c, err := d.admit(room, conn)
	if err != nil {
		_ = conn.Close(websocket.ClosePolicyViolation, fmt.Sprintf("Room '%s' does not exist.", room))
		return nil, err
	}
	n, err := d.store.IncrementUsers(ctx, room)
	if err != nil {
		d.conns.Remove(c)
		c.close(websocket.CloseInternalServerErr, "broker unavailable")
		return nil, err
	}
	d.log.Info("[chat] new client joined", zap.String("room", room), zap.String("conn", c.ConnID))

	if err := d.Broadcast(ctx, room, message.NewNbUsers(int(n))); err != nil {
		d.log.Warn("[chat] notify nb_users failed", zap.String("room", room), zap.Error(err))
	}
	d.replay(ctx, c)
	go c.writePump(d.onSendFailure)
	return c, nil
}

// replay 写协程启动前直接写 conn，历史条数不受发送队列长度限制；
// 期间到达的实时消息留在队列里，回放结束后由写协程按序发出
func (d *Dispatcher) replay(ctx context.Context, c *Client) {
	history, err := d.store.ListMessages(ctx, c.Room)
	if err != nil {
		d.log.Warn("[chat] load history failed", zap.String("room", c.Room), zap.Error(err))
		return
	}
	for _, m := range history {
		b, err := message.Marshal(m)
		if err != nil {
			d.log.Error("[chat] marshal failed", zap.String("type", string(m.MessageType())), zap.Error(err))
			continue
		}
		if err := c.conn.Send(b); err != nil {
			d.onSendFailure(c, err)
			return
		}
	}
}

// RegisterUser 昵称在房间内唯一；重复时只回复发送方
func (d *Dispatcher) RegisterUser(ctx context.Context, c *Client, nickname string) error {
	present, err := d.store.IsNicknamePresent(ctx, c.Room, nickname)
	if err != nil {
		return err
	}
	if present {
		reason := fmt.Sprintf("User '%s' already registered in room %s", nickname, c.Room)
		d.log.Info("[chat] duplicate nickname", zap.String("room", c.Room), zap.String("nickname", nickname))
		d.SendTo(c, message.NewUncompliant(reason))
		return errs.ErrDuplicateNickname.WrapMsg(reason)
	}
	if old := c.Nickname(); old != "" {
		if err := d.store.UnregisterNickname(ctx, c.Room, old); err != nil {
			return err
		}
	}
	if err := d.store.RegisterNickname(ctx, c.Room, nickname); err != nil {
		return err
	}
	c.setNickname(nickname)
	d.log.Info("[chat] welcome", zap.String("room", c.Room), zap.String("nickname", nickname))
	return d.Broadcast(ctx, c.Room, message.NewNewcomer(nickname))
}

// Broadcast 先发布，再按规则写历史与归档
func (d *Dispatcher) Broadcast(ctx context.Context, room string, msg message.Message) error {
	if !d.HasRoom(room) {
		return d.roomNotFound(room)
	}
	if err := d.store.Publish(ctx, room, msg); err != nil {
		return err
	}
	if !d.shouldPersist(msg) {
		return nil
	}
	if err := d.store.AppendMessage(ctx, room, msg); err != nil {
		return err
	}
	if d.archiver != nil {
		if err := d.archiver.Archive(ctx, room, msg); err != nil {
			d.log.Warn("[chat] archive failed", zap.String("room", room), zap.String("id", msg.MessageID()), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) shouldPersist(msg message.Message) bool {
	if !message.Persistable(msg.MessageType()) {
		return false
	}
	if t, ok := msg.(*message.Text); ok {
		_, cheat := d.cheat[t.Text]
		return !cheat
	}
	return true
}

// SendTo 只发给一个连接
func (d *Dispatcher) SendTo(c *Client, msg message.Message) {
	b, err := message.Marshal(msg)
	if err != nil {
		d.log.Error("[chat] marshal failed", zap.String("type", string(msg.MessageType())), zap.Error(err))
		return
	}
	if !c.enqueue(b) {
		d.drop(c, "send queue full")
	}
}

// LocalDeliver 把 broker 收到的原始字节推给本地该房间的所有连接
func (d *Dispatcher) LocalDeliver(room string, raw []byte) {
	for _, c := range d.conns.Clients(room) {
		if !c.enqueue(raw) {
			d.drop(c, "send queue full")
		}
	}
}

func (d *Dispatcher) onSendFailure(c *Client, err error) {
	d.drop(c, err.Error())
}

// drop 只移出本地表并断开；计数与昵称由读循环退出时的 Disconnect 处理
func (d *Dispatcher) drop(c *Client, reason string) {
	if !d.conns.Remove(c) {
		return
	}
	d.log.Warn("[chat] drop client", zap.String("room", c.Room), zap.String("conn", c.ConnID), zap.String("reason", reason))
	c.close(websocket.CloseTryAgainLater, "send failed")
}

// Disconnect 连接结束：移出本地表、注销昵称、计数减一并广播；每个 client 只生效一次
func (d *Dispatcher) Disconnect(ctx context.Context, c *Client) error {
	var first error
	c.leaveOnce.Do(func() {
		d.conns.Remove(c)
		c.close(websocket.CloseNormalClosure, "")

		if nick := c.Nickname(); nick != "" {
			if err := d.store.UnregisterNickname(ctx, c.Room, nick); err != nil {
				first = err
			} else if err := d.Broadcast(ctx, c.Room, message.NewExiter(nick)); err != nil {
				first = err
			}
		}
		n, err := d.store.DecrementUsers(ctx, c.Room)
		if err != nil {
			if first == nil {
				first = err
			}
			return
		}
		if err := d.Broadcast(ctx, c.Room, message.NewNbUsers(int(n))); err != nil && first == nil {
			first = err
		}
		d.log.Info("[chat] client left", zap.String("room", c.Room), zap.String("conn", c.ConnID), zap.Int64("nb_users", n))
	})
	return first
}

func (d *Dispatcher) Snapshot(ctx context.Context, room string) (RoomSnapshot, error) {
	var snap RoomSnapshot
	if !d.HasRoom(room) {
		return snap, d.roomNotFound(room)
	}
	var err error
	if snap.NbUsers, err = d.store.NbUsers(ctx, room); err != nil {
		return snap, err
	}
	if snap.Nicknames, err = d.store.ListNicknames(ctx, room); err != nil {
		return snap, err
	}
	if snap.Messages, err = d.store.ListMessages(ctx, room); err != nil {
		return snap, err
	}
	return snap, nil
}

func (d *Dispatcher) NbUsers(ctx context.Context, room string) (int64, error) {
	if !d.HasRoom(room) {
		return 0, d.roomNotFound(room)
	}
	return d.store.NbUsers(ctx, room)
}

func (d *Dispatcher) Nicknames(ctx context.Context, room string) ([]string, error) {
	if !d.HasRoom(room) {
		return nil, d.roomNotFound(room)
	}
	return d.store.ListNicknames(ctx, room)
}

// History 房间历史，旧的在前
func (d *Dispatcher) History(ctx context.Context, room string) ([]message.Message, error) {
	if !d.HasRoom(room) {
		return nil, d.roomNotFound(room)
	}
	return d.store.ListMessages(ctx, room)
}

// SubmitText HTTP 提交文本，type 固定为 text
func (d *Dispatcher) SubmitText(ctx context.Context, room string, payload map[string]any) (*message.Text, error) {
	if !d.HasRoom(room) {
		return nil, d.roomNotFound(room)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["type"] = string(message.TypeText)
	msg, err := d.parser.Decode(payload)
	if err != nil {
		return nil, err
	}
	text := msg.(*message.Text)
	if err := d.Broadcast(ctx, room, text); err != nil {
		return nil, err
	}
	d.log.Info("[chat] text via http", zap.String("room", room), zap.String("author", text.Author))
	return text, nil
}

// Listen 订阅所有房间频道（单个复用订阅），返回时已生效
func (d *Dispatcher) Listen(ctx context.Context) (broker.Subscription, error) {
	byChannel := make(map[string]string, len(d.opts.Rooms))
	for _, room := range d.opts.Rooms {
		byChannel[d.store.ChannelKey(room)] = room
	}
	return d.pubsub.Subscribe(ctx, lo.Keys(byChannel), func(_ context.Context, channel string, payload []byte) {
		room, ok := byChannel[channel]
		if !ok {
			return
		}
		d.LocalDeliver(room, payload)
	})
}

// Run 阻塞直到 ctx 结束，随后关闭订阅与本地连接
func (d *Dispatcher) Run(ctx context.Context) error {
	sub, err := d.Listen(ctx)
	if err != nil {
		return errs.ErrBrokerUnavailable.WrapMsg("subscribe rooms", "cause", err.Error())
	}
	d.log.Info("[chat] listening", zap.Strings("rooms", d.opts.Rooms))
	<-ctx.Done()
	_ = sub.Close()
	d.conns.Close()
	return nil
}
