package storage

import (
	"context"
	"sync/atomic"
	"time"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/tools/errs"
	"LobbyHub/tools/safe"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const createMembershipTable = `
CREATE TABLE IF NOT EXISTS ` + model.MembershipTableName + ` (
	id       BIGSERIAL PRIMARY KEY,
	room_id  TEXT        NOT NULL,
	user_id  TEXT        NOT NULL,
	kind     TEXT        NOT NULL,
	at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ` + model.MembershipTableName + `_room_at ON ` + model.MembershipTableName + ` (room_id, at);`

const insertMembership = `INSERT INTO ` + model.MembershipTableName + ` (room_id, user_id, kind, at) VALUES ($1, $2, $3, $4)`

// BatchExecer is the part of pgxpool.Pool the history writer uses.
type BatchExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PGHistoryConf struct {
	BatchSize int
	FlushWait time.Duration
	Queue     int
}

// PGHistory appends membership events to Postgres in batches. Record never
// blocks the room that calls it.
type PGHistory struct {
	db      BatchExecer
	conf    PGHistoryConf
	queue   chan model.MembershipEvent
	dropped atomic.Int64
	written atomic.Int64
}

// OpenPGPool connects a pgx pool and pings it.
func OpenPGPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres: ping")
	}
	return pool, nil
}

func NewPGHistory(db BatchExecer, conf PGHistoryConf) *PGHistory {
	safe.MustNotNil(db, "postgres")
	conf.BatchSize = safe.DefaultInt(conf.BatchSize, 100)
	conf.FlushWait = safe.DefaultDuration(conf.FlushWait, time.Second)
	conf.Queue = safe.DefaultInt(conf.Queue, conf.BatchSize*16)
	return &PGHistory{db: db, conf: conf, queue: make(chan model.MembershipEvent, conf.Queue)}
}

func (h *PGHistory) EnsureSchema(ctx context.Context) error {
	_, err := h.db.Exec(ctx, createMembershipTable)
	return errs.WrapMsg(err, "postgres: ensure membership table")
}

// Record implements room.HistoryRecorder.
func (h *PGHistory) Record(ev model.MembershipEvent) {
	select {
	case h.queue <- ev:
	default:
		if n := h.dropped.Add(1); n == 1 || n%1000 == 0 {
			logger.Warn("history: queue full, dropping events", zap.Int64("dropped", n))
		}
	}
}

func (h *PGHistory) Dropped() int64 { return h.dropped.Load() }
func (h *PGHistory) Written() int64 { return h.written.Load() }

// Run collects events into batches and writes a batch once it is full or
// FlushWait has passed since its first event. Pending events are flushed
// when ctx is done.
func (h *PGHistory) Run(ctx context.Context) {
	buf := make([]model.MembershipEvent, 0, h.conf.BatchSize)
	timer := time.NewTimer(h.conf.FlushWait)
	timer.Stop()
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		if err := h.write(ctx, buf); err != nil {
			logger.Warn("history: batch failed", zap.Int("events", len(buf)), zap.Error(err))
		}
		buf = buf[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-h.queue:
					buf = append(buf, ev)
					continue
				default:
				}
				break
			}
			fctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			flush(fctx)
			cancel()
			return
		case ev := <-h.queue:
			if len(buf) == 0 {
				timer.Reset(h.conf.FlushWait)
			}
			buf = append(buf, ev)
			if len(buf) >= h.conf.BatchSize {
				timer.Stop()
				flush(ctx)
			}
		case <-timer.C:
			flush(ctx)
		}
	}
}

func (h *PGHistory) write(ctx context.Context, evs []model.MembershipEvent) error {
	b := &pgx.Batch{}
	for _, ev := range evs {
		b.Queue(insertMembership, ev.RoomID, ev.UserID, string(ev.Kind), ev.At)
	}
	br := h.db.SendBatch(ctx, b)
	for range evs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	h.written.Add(int64(len(evs)))
	return nil
}
