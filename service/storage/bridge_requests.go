package storage

import (
	"context"

	"gischat/global"
	"gischat/tools/errs"

	"github.com/redis/go-redis/v9"
)

// BridgeRequest Matrix 桥接注册请求，存为一个 HASH
type BridgeRequest struct {
	Homeserver string `json:"homeserver" redis:"homeserver" binding:"required"`
	RoomID     string `json:"room_id" redis:"room_id" binding:"required"`
	User       string `json:"user" redis:"user" binding:"required"`
	Password   string `json:"password" redis:"password" binding:"required"`
	DeviceID   string `json:"device_id" redis:"device_id"`
}

type BridgeRequestStore struct {
	instanceID string
	rdb        redis.UniversalClient
}

func NewBridgeRequestStore(instanceID string, rdb redis.UniversalClient) *BridgeRequestStore {
	return &BridgeRequestStore{instanceID: instanceID, rdb: rdb}
}

func (s *BridgeRequestStore) SaveRequest(ctx context.Context, id string, req BridgeRequest) error {
	if err := s.rdb.HSet(ctx, global.MatrixRequestKey(s.instanceID, id), req).Err(); err != nil {
		return unavailable(err, "save matrix request", "request", id)
	}
	return nil
}

// LoadRequest 不存在时 ok=false
func (s *BridgeRequestStore) LoadRequest(ctx context.Context, id string) (BridgeRequest, bool, error) {
	var req BridgeRequest
	cmd := s.rdb.HGetAll(ctx, global.MatrixRequestKey(s.instanceID, id))
	vals, err := cmd.Result()
	if err != nil {
		return req, false, unavailable(err, "load matrix request", "request", id)
	}
	if len(vals) == 0 {
		return req, false, nil
	}
	if err := cmd.Scan(&req); err != nil {
		return req, false, unavailable(err, "scan matrix request", "request", id)
	}
	return req, true, nil
}

func (s *BridgeRequestStore) HasRequest(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, global.MatrixRequestKey(s.instanceID, id)).Result()
	if err != nil {
		return false, unavailable(err, "exists matrix request", "request", id)
	}
	return n > 0, nil
}

func (s *BridgeRequestStore) DeleteRequest(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, global.MatrixRequestKey(s.instanceID, id)).Err(); err != nil {
		return unavailable(err, "delete matrix request", "request", id)
	}
	return nil
}

const claimedByField = "claimed_by"

// 请求存在才占用：KEYS[1]=request key; ARGV[1]=field; ARGV[2]=owner
// 返回：1 占用成功；0 已被占用；-1 请求不存在
var luaMarkClaimed = redis.NewScript(`
  if redis.call('EXISTS', KEYS[1]) == 0 then
    return -1
  end
  return redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
`)

// MarkClaimed 跨实例只有第一个成功；请求已被删除时返回 ErrBridgeRequestNotFound，不会留下残缺的 HASH
func (s *BridgeRequestStore) MarkClaimed(ctx context.Context, id, owner string) (bool, error) {
	key := global.MatrixRequestKey(s.instanceID, id)
	n, err := luaMarkClaimed.Run(ctx, s.rdb, []string{key}, claimedByField, owner).Int64()
	if err != nil {
		return false, unavailable(err, "claim matrix request", "request", id)
	}
	if n < 0 {
		return false, errs.ErrBridgeRequestNotFound.WrapMsg("matrix request deleted", "request", id)
	}
	return n == 1, nil
}

// UnmarkClaimed 登录失败时归还请求
func (s *BridgeRequestStore) UnmarkClaimed(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, global.MatrixRequestKey(s.instanceID, id), claimedByField).Err(); err != nil {
		return unavailable(err, "unclaim matrix request", "request", id)
	}
	return nil
}
