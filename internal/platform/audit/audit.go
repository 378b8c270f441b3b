// Package audit records who changed what. Recording is best-effort: a
// failed audit write is logged and never fails the operation that
// produced it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is one audit record.
type Entry struct {
	ActorID     string
	Action      string // create, update, cancel, payment, refund
	EntityTable string
	EntityID    string
	OldValue    interface{}
	NewValue    interface{}
	Timestamp   time.Time
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, entry Entry) error

func (f RecorderFunc) Record(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

const recordTimeout = 2 * time.Second

// Record writes an entry asynchronously and swallows failures. Services
// call this after their transaction commits.
func Record(logger zerolog.Logger, rec Recorder, entry Entry) {
	if rec == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := rec.Record(ctx, entry); err != nil {
			logger.Warn().
				Err(err).
				Str("action", entry.Action).
				Str("entity_table", entry.EntityTable).
				Str("entity_id", entry.EntityID).
				Msg("audit record failed")
		}
	}()
}

// PGRecorder persists audit entries to the audit_log table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

func NewPGRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

func (r *PGRecorder) Record(ctx context.Context, entry Entry) error {
	oldJSON, err := marshalValue(entry.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := marshalValue(entry.NewValue)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, entity_table, entity_id, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), entry.ActorID, entry.Action, entry.EntityTable, entry.EntityID,
		oldJSON, newJSON, entry.Timestamp)
	return err
}

func marshalValue(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// LogRecorder writes audit entries to the structured log, for setups
// without a durable audit store.
type LogRecorder struct {
	Logger zerolog.Logger
}

func (r LogRecorder) Record(_ context.Context, entry Entry) error {
	r.Logger.Info().
		Str("actor_id", entry.ActorID).
		Str("action", entry.Action).
		Str("entity_table", entry.EntityTable).
		Str("entity_id", entry.EntityID).
		Msg("audit")
	return nil
}
