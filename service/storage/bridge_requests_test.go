package storage

import (
	"context"
	"testing"

	"gischat/tools/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestBridgeRequestLifecycle(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewBridgeRequestStore(testInstance, rdb)
	ctx := context.Background()

	_, ok, err := store.LoadRequest(ctx, "r1")
	req.NoError(err)
	req.False(ok)

	in := BridgeRequest{
		Homeserver: "https://matrix.example.org",
		RoomID:     "!room:example.org",
		User:       "@jane:example.org",
		Password:   "secret",
		DeviceID:   "DEV1",
	}
	req.NoError(store.SaveRequest(ctx, "r1", in))

	has, err := store.HasRequest(ctx, "r1")
	req.NoError(err)
	req.True(has)

	out, ok, err := store.LoadRequest(ctx, "r1")
	req.NoError(err)
	req.True(ok)
	req.Equal(in, out)

	req.NoError(store.DeleteRequest(ctx, "r1"))
	req.NoError(store.DeleteRequest(ctx, "r1"))
	has, err = store.HasRequest(ctx, "r1")
	req.NoError(err)
	req.False(has)
}

func TestBridgeRequestClaimMarker(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewBridgeRequestStore(testInstance, rdb)
	ctx := context.Background()

	in := BridgeRequest{Homeserver: "https://hs", RoomID: "!r:hs", User: "jane", Password: "pw"}
	req.NoError(store.SaveRequest(ctx, "r1", in))

	// Given 第一个占用成功
	ok, err := store.MarkClaimed(ctx, "r1", "conn-a")
	req.NoError(err)
	req.True(ok)

	// When 第二个占用
	ok, err = store.MarkClaimed(ctx, "r1", "conn-b")

	// Then 被拒绝，且标记不影响读取凭据
	req.NoError(err)
	req.False(ok)
	out, found, err := store.LoadRequest(ctx, "r1")
	req.NoError(err)
	req.True(found)
	req.Equal(in, out)

	req.NoError(store.UnmarkClaimed(ctx, "r1"))
	ok, err = store.MarkClaimed(ctx, "r1", "conn-b")
	req.NoError(err)
	req.True(ok)
}

func TestBridgeRequestClaimAfterDelete(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewBridgeRequestStore(testInstance, rdb)
	ctx := context.Background()

	// Given 请求在读取后被删除
	req.NoError(store.SaveRequest(ctx, "r1", BridgeRequest{Homeserver: "https://hs", RoomID: "!r:hs", User: "jane", Password: "pw"}))
	req.NoError(store.DeleteRequest(ctx, "r1"))

	// When
	ok, err := store.MarkClaimed(ctx, "r1", "conn-a")

	// Then 不占用，也不重新生成 HASH
	req.False(ok)
	req.True(errs.Is(err, errs.ErrBridgeRequestNotFound))
	has, err := store.HasRequest(ctx, "r1")
	req.NoError(err)
	req.False(has)
}
