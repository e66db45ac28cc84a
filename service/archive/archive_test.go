package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gischat/module/message"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type call struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []call
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestNewRecord(t *testing.T) {
	req := require.New(t)

	// Given
	msg := message.NewText("alice", "hello")
	msg.Timestamp = 1700000000

	// When
	rec, err := NewRecord("QGIS", msg)

	// Then
	req.NoError(err)
	req.Equal(msg.ID, rec.ID)
	req.Equal("QGIS", rec.Room)
	req.Equal("text", rec.Type)
	req.NotNil(rec.Author)
	req.Equal("alice", *rec.Author)
	req.Equal(int64(1700000000), rec.PostedAt.Unix())

	var payload map[string]any
	req.NoError(json.Unmarshal(rec.Payload, &payload))
	req.Equal("hello", payload["text"])
}

func TestNewRecordWithoutAuthor(t *testing.T) {
	rec, err := NewRecord("QGIS", message.NewNbUsers(3))
	require.NoError(t, err)
	require.Nil(t, rec.Author)
}

func TestArchiveExec(t *testing.T) {
	req := require.New(t)
	db := &fakeDB{}
	a := New(db, zaptest.NewLogger(t))
	ctx := context.Background()

	req.NoError(a.EnsureSchema(ctx))
	req.NoError(a.Archive(ctx, "QGIS", message.NewText("alice", "hello")))

	req.Len(db.calls, 2)
	req.True(strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS message"))
	req.True(strings.Contains(db.calls[1].sql, "INSERT INTO message"))
	req.Len(db.calls[1].args, 6)
	req.Equal("QGIS", db.calls[1].args[1])

	db.err = errors.New("connection reset")
	req.ErrorContains(a.Archive(ctx, "QGIS", message.NewText("alice", "again")), "connection reset")
}
