package storage

import (
	"context"
	"strconv"

	"gischat/global"
	"gischat/module/message"
	"gischat/service/broker"
	"gischat/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// RoomStoreConfig 房间共享状态配置
type RoomStoreConfig struct {
	InstanceID        string
	MaxStoredMessages int
}

// RoomStore 房间的共享状态：人数计数、昵称列表、历史消息、广播频道
type RoomStore struct {
	cfg    RoomStoreConfig
	rdb    redis.UniversalClient
	pubsub broker.PubSub
	parser *message.Parser
	log    *zap.Logger
}

func NewRoomStore(cfg RoomStoreConfig, rdb redis.UniversalClient, pubsub broker.PubSub, parser *message.Parser, log *zap.Logger) *RoomStore {
	if cfg.MaxStoredMessages < 0 {
		cfg.MaxStoredMessages = 0
	}
	return &RoomStore{cfg: cfg, rdb: rdb, pubsub: pubsub, parser: parser, log: log}
}

// ChannelKey 房间的 pub/sub 频道名
func (s *RoomStore) ChannelKey(room string) string {
	return global.RoomChannelKey(s.cfg.InstanceID, room)
}

func unavailable(err error, op string, kv ...any) error {
	return errs.ErrBrokerUnavailable.WrapMsg(op, append(kv, "cause", err.Error())...)
}

// ===== 在线人数 =====

func (s *RoomStore) IncrementUsers(ctx context.Context, room string) (int64, error) {
	n, err := s.rdb.Incr(ctx, global.RoomNbUsersKey(s.cfg.InstanceID, room)).Result()
	if err != nil {
		return 0, unavailable(err, "incr nb_users", "room", room)
	}
	return n, nil
}

func (s *RoomStore) DecrementUsers(ctx context.Context, room string) (int64, error) {
	n, err := s.rdb.Decr(ctx, global.RoomNbUsersKey(s.cfg.InstanceID, room)).Result()
	if err != nil {
		return 0, unavailable(err, "decr nb_users", "room", room)
	}
	return n, nil
}

// NbUsers 冷键初始化为 0
func (s *RoomStore) NbUsers(ctx context.Context, room string) (int64, error) {
	key := global.RoomNbUsersKey(s.cfg.InstanceID, room)
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		if err := s.rdb.SetNX(ctx, key, 0, 0).Err(); err != nil {
			return 0, unavailable(err, "init nb_users", "room", room)
		}
		return 0, nil
	}
	if err != nil {
		return 0, unavailable(err, "get nb_users", "room", room)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.log.Warn("[store] corrupted nb_users counter", zap.String("room", room), zap.String("value", v))
		return 0, nil
	}
	return n, nil
}

// ===== 昵称 =====

func (s *RoomStore) RegisterNickname(ctx context.Context, room, nickname string) error {
	if err := s.rdb.RPush(ctx, global.RoomRegisteredUsersKey(s.cfg.InstanceID, room), nickname).Err(); err != nil {
		return unavailable(err, "register nickname", "room", room)
	}
	return nil
}

// UnregisterNickname 只移除一个同名条目
func (s *RoomStore) UnregisterNickname(ctx context.Context, room, nickname string) error {
	if err := s.rdb.LRem(ctx, global.RoomRegisteredUsersKey(s.cfg.InstanceID, room), 1, nickname).Err(); err != nil {
		return unavailable(err, "unregister nickname", "room", room)
	}
	return nil
}

func (s *RoomStore) ListNicknames(ctx context.Context, room string) ([]string, error) {
	vals, err := s.rdb.LRange(ctx, global.RoomRegisteredUsersKey(s.cfg.InstanceID, room), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err, "list nicknames", "room", room)
	}
	return vals, nil
}

func (s *RoomStore) IsNicknamePresent(ctx context.Context, room, nickname string) (bool, error) {
	vals, err := s.ListNicknames(ctx, room)
	if err != nil {
		return false, err
	}
	return lo.Contains(vals, nickname), nil
}

// ===== 历史消息 =====

// AppendMessage LPUSH + LTRIM 保留最近 N 条
func (s *RoomStore) AppendMessage(ctx context.Context, room string, msg message.Message) error {
	if s.cfg.MaxStoredMessages == 0 {
		return nil
	}
	b, err := message.Marshal(msg)
	if err != nil {
		return errs.WrapMsg(err, "marshal message", "type", msg.MessageType())
	}
	key := global.RoomLastMessagesKey(s.cfg.InstanceID, room)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, int64(s.cfg.MaxStoredMessages)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err, "append message", "room", room)
	}
	return nil
}

// ListMessages 由旧到新；解析失败的条目跳过
func (s *RoomStore) ListMessages(ctx context.Context, room string) ([]message.Message, error) {
	vals, err := s.rdb.LRange(ctx, global.RoomLastMessagesKey(s.cfg.InstanceID, room), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err, "list messages", "room", room)
	}
	out := make([]message.Message, 0, len(vals))
	for _, v := range lo.Reverse(vals) {
		msg, err := s.parser.DecodeJSON([]byte(v))
		if err != nil {
			s.log.Warn("[store] skip corrupted history entry", zap.String("room", room), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// ===== 广播 =====

func (s *RoomStore) Publish(ctx context.Context, room string, msg message.Message) error {
	b, err := message.Marshal(msg)
	if err != nil {
		return errs.WrapMsg(err, "marshal message", "type", msg.MessageType())
	}
	if err := s.pubsub.Publish(ctx, s.ChannelKey(room), b); err != nil {
		return unavailable(err, "publish", "room", room)
	}
	return nil
}
