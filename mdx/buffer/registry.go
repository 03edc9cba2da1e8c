package buffer

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Record is one registry row describing a published buffer.
type Record struct {
	Fingerprint Fingerprint
	TableName   string
	ItemCount   int64
	SizeBytes   int64
	CreatedAt   time.Time
	LastAccess  time.Time
	FilterJSON  string
}

// Aggregate summarizes the registry for eviction and stats.
type Aggregate struct {
	Count      int64
	TotalItems int64
	TotalSize  int64
}

// Registry is the durable catalog of published buffers. It is the only
// writer of the buffers table.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Init creates the registry schema.
func (r *Registry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS buffers (
		fingerprint TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		item_count INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		last_access INTEGER NOT NULL,
		filter_json TEXT NOT NULL
	)`)
	if err != nil {
		return storageErr("registry init", err)
	}
	return nil
}

// Lookup returns the record for a fingerprint and bumps its last-access time.
// Returns ErrNotFound when the fingerprint has no buffer.
func (r *Registry) Lookup(ctx context.Context, fp Fingerprint) (*Record, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		"UPDATE buffers SET last_access = ? WHERE fingerprint = ?",
		now.UnixNano(), string(fp))
	if err != nil {
		return nil, storageErr("registry lookup", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr("registry lookup", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	rec, err := r.get(ctx, fp)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Registry) get(ctx context.Context, fp Fingerprint) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT fingerprint, table_name, item_count, size_bytes, created_at, last_access, filter_json
		 FROM buffers WHERE fingerprint = ?`, string(fp))
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("registry get", err)
	}
	return rec, nil
}

// Register inserts or replaces the record for a fingerprint. Used only by the
// builder immediately after a successful publish.
func (r *Registry) Register(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO buffers (fingerprint, table_name, item_count, size_bytes, created_at, last_access, filter_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			table_name = excluded.table_name,
			item_count = excluded.item_count,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			last_access = excluded.last_access,
			filter_json = excluded.filter_json`,
		string(rec.Fingerprint), rec.TableName, rec.ItemCount, rec.SizeBytes,
		rec.CreatedAt.UnixNano(), rec.LastAccess.UnixNano(), rec.FilterJSON)
	if err != nil {
		return storageErr("registry register", err)
	}
	return nil
}

// Delete removes the registry row only; dropping the backing table is the
// caller's responsibility.
func (r *Registry) Delete(ctx context.Context, fp Fingerprint) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM buffers WHERE fingerprint = ?", string(fp))
	if err != nil {
		return storageErr("registry delete", err)
	}
	return nil
}

// ListAll returns every record ordered least-recently-accessed first.
func (r *Registry) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint, table_name, item_count, size_bytes, created_at, last_access, filter_json
		 FROM buffers ORDER BY last_access ASC, created_at ASC`)
	if err != nil {
		return nil, storageErr("registry list", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, storageErr("registry list", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("registry list", err)
	}
	return records, nil
}

// Aggregate returns the registry-wide buffer count, item count and byte size.
func (r *Registry) Aggregate(ctx context.Context) (Aggregate, error) {
	var agg Aggregate
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(item_count), 0), COALESCE(SUM(size_bytes), 0) FROM buffers").
		Scan(&agg.Count, &agg.TotalItems, &agg.TotalSize)
	if err != nil {
		return Aggregate{}, storageErr("registry aggregate", err)
	}
	return agg, nil
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var fp string
	var createdAt, lastAccess int64
	if err := scan(&fp, &rec.TableName, &rec.ItemCount, &rec.SizeBytes, &createdAt, &lastAccess, &rec.FilterJSON); err != nil {
		return nil, err
	}
	rec.Fingerprint = Fingerprint(fp)
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.LastAccess = time.Unix(0, lastAccess)
	return &rec, nil
}
