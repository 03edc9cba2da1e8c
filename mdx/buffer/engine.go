package buffer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/mediadex/mdx/catalog"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// dropWorkers bounds concurrent table drops during clear-all and sweep.
const dropWorkers = 4

// Config carries the engine budgets and paging bounds.
type Config struct {
	MaxBuffers      int
	MaxTotalSizeMB  int
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultConfig returns the stock budgets.
func DefaultConfig() Config {
	return Config{
		MaxBuffers:      10,
		MaxTotalSizeMB:  500,
		DefaultPageSize: 60,
		MaxPageSize:     500,
	}
}

// Stats is the external view of the registry aggregate.
type Stats struct {
	BufferCount int64
	TotalItems  int64
	TotalSizeMB float64
}

// BufferInfo describes the buffer resolved for a filter. Reused is true when
// an existing buffer satisfied the request without a catalog query.
type BufferInfo struct {
	Fingerprint Fingerprint
	ItemCount   int64
	Reused      bool
}

// Engine is the buffer cache handle. Construct one after the storage engine
// is ready and pass it by reference to all callers; it holds no global state.
// Operations execute synchronously on the caller's goroutine and respect the
// caller's context for cancellation. The engine does not serialize concurrent
// builds of the same fingerprint; racing builds converge on whichever rename
// lands last.
type Engine struct {
	db       *sql.DB
	registry *Registry
	builder  *Builder
	pager    *Paginator
	evictor  *Evictor
	ui       *StateStore
	cfg      Config
	log      zerolog.Logger

	AssertHandler *assert.AssertHandler
}

// NewEngine initializes the schema and wires the engine components.
func NewEngine(ctx context.Context, db *sql.DB, source catalog.Source, cfg Config, log zerolog.Logger) (*Engine, error) {
	defaults := DefaultConfig()
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = defaults.MaxBuffers
	}
	if cfg.MaxTotalSizeMB <= 0 {
		cfg.MaxTotalSizeMB = defaults.MaxTotalSizeMB
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = defaults.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaults.MaxPageSize
	}

	registry := NewRegistry(db)
	if err := registry.Init(ctx); err != nil {
		return nil, err
	}
	ui := NewStateStore(db)
	if err := ui.Init(ctx); err != nil {
		return nil, err
	}

	maxBytes := int64(cfg.MaxTotalSizeMB) * 1024 * 1024
	engine := &Engine{
		db:            db,
		registry:      registry,
		builder:       NewBuilder(db, registry, source, log),
		pager:         NewPaginator(db, registry),
		evictor:       NewEvictor(db, registry, cfg.MaxBuffers, maxBytes, log),
		ui:            ui,
		cfg:           cfg,
		log:           log,
		AssertHandler: assert.NewAssertHandler(),
	}
	return engine, nil
}

// GetOrCreateBuffer resolves the buffer for a filter, building it from the
// catalog on a registry miss. With force set, any existing buffer is dropped
// and rebuilt fresh; the fingerprint is unchanged but cursors from the old
// generation are invalid. Eviction runs after every successful build.
func (e *Engine) GetOrCreateBuffer(ctx context.Context, f catalog.Filter, force bool) (BufferInfo, error) {
	spec, fp, err := Canonicalize(f)
	if err != nil {
		return BufferInfo{}, err
	}

	if !force {
		rec, err := e.registry.Lookup(ctx, fp)
		if err == nil {
			return BufferInfo{Fingerprint: fp, ItemCount: rec.ItemCount, Reused: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return BufferInfo{}, err
		}
	}

	var count int64
	if force {
		count, err = e.builder.Rebuild(ctx, fp, spec)
	} else {
		count, err = e.builder.Build(ctx, fp, spec)
	}
	if err != nil {
		return BufferInfo{}, err
	}

	if err := e.evictor.Evict(ctx); err != nil {
		// A failed eviction never rolls back the published buffer.
		e.log.Error().Err(err).Msg("eviction pass failed")
	}
	return BufferInfo{Fingerprint: fp, ItemCount: count}, nil
}

// GetPage returns the next page of buffer rows. Fails with ErrNotFound when
// the fingerprint has no buffer; callers are expected to build first. A zero
// or negative limit selects the configured default; limits above the
// configured maximum are clamped.
func (e *Engine) GetPage(ctx context.Context, fp Fingerprint, cursor *Cursor, limit int) ([]Row, *Cursor, error) {
	if limit <= 0 {
		limit = e.cfg.DefaultPageSize
	}
	if limit > e.cfg.MaxPageSize {
		limit = e.cfg.MaxPageSize
	}
	return e.pager.Page(ctx, fp, cursor, limit)
}

// DeleteBuffer drops a buffer's backing table and registry row. Deleting an
// unknown fingerprint is a no-op.
func (e *Engine) DeleteBuffer(ctx context.Context, fp Fingerprint) error {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", TableName(fp))); err != nil {
		return storageErr("drop buffer", err)
	}
	return e.registry.Delete(ctx, fp)
}

// ClearAllBuffers discards every buffer. Buffers snapshot point-in-time
// catalog state, so this is expected to run once at process startup to shed
// anything left over from a previous run.
func (e *Engine) ClearAllBuffers(ctx context.Context) error {
	records, err := e.registry.ListAll(ctx)
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(dropWorkers).WithContext(ctx)
	for _, rec := range records {
		p.Go(func(ctx context.Context) error {
			if _, err := e.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", rec.TableName)); err != nil {
				return storageErr("clear buffers", err)
			}
			return e.registry.Delete(ctx, rec.Fingerprint)
		})
	}
	return p.Wait()
}

// SweepStaging drops orphaned staging tables left behind by builds that
// failed between insert and publish. Run it at startup, before any build is
// in flight; an in-progress staging table is indistinguishable from an
// orphan. Returns the number of tables reclaimed.
func (e *Engine) SweepStaging(ctx context.Context) (int, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB 'buf_*_new_*'")
	if err != nil {
		return 0, storageErr("staging sweep", err)
	}
	defer rows.Close()

	var orphans []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, storageErr("staging sweep", err)
		}
		orphans = append(orphans, name)
	}
	if err := rows.Err(); err != nil {
		return 0, storageErr("staging sweep", err)
	}

	p := pool.New().WithMaxGoroutines(dropWorkers).WithContext(ctx)
	for _, name := range orphans {
		p.Go(func(ctx context.Context) error {
			if _, err := e.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
				return storageErr("staging sweep", err)
			}
			e.log.Debug().Str("table", name).Msg("reclaimed orphaned staging table")
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}
	return len(orphans), nil
}

// ListBuffers returns every registry record, least recently accessed first.
func (e *Engine) ListBuffers(ctx context.Context) ([]Record, error) {
	return e.registry.ListAll(ctx)
}

// Stats reports the registry aggregate.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	agg, err := e.registry.Aggregate(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		BufferCount: agg.Count,
		TotalItems:  agg.TotalItems,
		TotalSizeMB: float64(agg.TotalSize) / (1024 * 1024),
	}, nil
}

// SaveUIState persists a UI state value under key, overwriting wholesale.
func (e *Engine) SaveUIState(ctx context.Context, key string, value any) error {
	return e.ui.Put(ctx, key, value)
}

// GetUIState loads the UI state stored under key into out; the bool reports
// whether the key existed.
func (e *Engine) GetUIState(ctx context.Context, key string, out any) (bool, error) {
	return e.ui.Get(ctx, key, out)
}

// ListUIStateKeys enumerates stored UI state keys by prefix.
func (e *Engine) ListUIStateKeys(prefix string) []string {
	return e.ui.ListKeys(prefix)
}
