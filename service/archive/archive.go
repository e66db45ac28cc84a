package archive

import (
	"context"
	"encoding/json"
	"time"

	"gischat/module/message"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS message (
	id        TEXT PRIMARY KEY,
	room      TEXT NOT NULL,
	type      TEXT NOT NULL,
	author    TEXT,
	payload   JSONB NOT NULL,
	posted_at TIMESTAMPTZ NOT NULL
)`

const insertSQL = `
INSERT INTO message (id, room, type, author, payload, posted_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

// Execer pgxpool.Pool 满足此接口
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Record 一行归档
type Record struct {
	ID       string
	Room     string
	Type     string
	Author   *string
	Payload  []byte
	PostedAt time.Time
}

// NewRecord 从消息构造归档行；作者只对带作者的消息存在
func NewRecord(room string, msg message.Message) (Record, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Record{}, errors.Wrap(err, "marshal archived message")
	}
	rec := Record{
		ID:       msg.MessageID(),
		Room:     room,
		Type:     string(msg.MessageType()),
		Payload:  payload,
		PostedAt: time.Unix(msg.MessageTime(), 0).UTC(),
	}
	if a, ok := msg.(interface{ AuthorName() string }); ok {
		name := a.AuthorName()
		rec.Author = &name
	}
	return rec, nil
}

// Archive 把持久化的消息写入 Postgres
type Archive struct {
	db  Execer
	log *zap.Logger
}

func New(db Execer, log *zap.Logger) *Archive {
	return &Archive{db: db, log: log}
}

// Open 连接并建表；url 为空时调用方不应创建 Archive
func Open(ctx context.Context, url string, log *zap.Logger) (*Archive, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect archive database")
	}
	a := New(pool, log)
	if err := a.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("[archive] ready")
	return a, pool, nil
}

func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "create message table")
	}
	return nil
}

func (a *Archive) Archive(ctx context.Context, room string, msg message.Message) error {
	rec, err := NewRecord(room, msg)
	if err != nil {
		return err
	}
	if _, err := a.db.Exec(ctx, insertSQL, rec.ID, rec.Room, rec.Type, rec.Author, rec.Payload, rec.PostedAt); err != nil {
		return errors.Wrapf(err, "archive message %s", rec.ID)
	}
	a.log.Debug("[archive] stored", zap.String("room", room), zap.String("id", rec.ID), zap.String("type", rec.Type))
	return nil
}
