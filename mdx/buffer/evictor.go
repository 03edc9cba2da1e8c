package buffer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Evictor enforces the dual buffer budgets: a maximum buffer count and a
// maximum aggregate byte size. Victims are chosen strictly by recency of
// access; per-buffer size never influences victim selection.
type Evictor struct {
	db         *sql.DB
	registry   *Registry
	maxBuffers int64
	maxBytes   int64
	log        zerolog.Logger
}

func NewEvictor(db *sql.DB, registry *Registry, maxBuffers int, maxBytes int64, log zerolog.Logger) *Evictor {
	return &Evictor{db: db, registry: registry, maxBuffers: int64(maxBuffers), maxBytes: maxBytes, log: log}
}

// Evict drops least-recently-accessed buffers until both budgets are
// satisfied, or until a single buffer remains. Failures on individual victims
// are logged and eviction continues with the rest; a failed drop must never
// roll back a just-published buffer.
func (e *Evictor) Evict(ctx context.Context) error {
	agg, err := e.registry.Aggregate(ctx)
	if err != nil {
		return err
	}
	if agg.Count <= e.maxBuffers && agg.TotalSize <= e.maxBytes {
		return nil
	}

	victims, err := e.registry.ListAll(ctx)
	if err != nil {
		return err
	}

	remaining := agg
	for _, victim := range victims {
		if remaining.Count <= 1 {
			break
		}
		if remaining.Count <= e.maxBuffers && remaining.TotalSize <= e.maxBytes {
			break
		}

		if err := e.dropVictim(ctx, victim); err != nil {
			e.log.Error().Err(err).
				Str("fingerprint", string(victim.Fingerprint)).
				Str("table", victim.TableName).
				Msg("failed to evict buffer, continuing")
			continue
		}
		remaining.Count--
		remaining.TotalSize -= victim.SizeBytes
		e.log.Debug().
			Str("fingerprint", string(victim.Fingerprint)).
			Int64("size_bytes", victim.SizeBytes).
			Time("last_access", victim.LastAccess).
			Msg("evicted buffer")
	}
	return nil
}

func (e *Evictor) dropVictim(ctx context.Context, victim Record) error {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", victim.TableName)); err != nil {
		return storageErr("drop evicted buffer", err)
	}
	return e.registry.Delete(ctx, victim.Fingerprint)
}
