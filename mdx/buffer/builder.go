package buffer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/mediadex/mdx/catalog"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// estimatedBytesPerRow is the heuristic used for the registry size estimate.
// Rows are a fixed narrow projection, so a constant multiplier is close
// enough for budget accounting.
const estimatedBytesPerRow = 512

const publishedPrefix = "buf_"

// Builder materializes catalog query results into indexed buffer tables. It
// is the sole writer of buffer content; a buffer is immutable once published.
type Builder struct {
	db       *sql.DB
	registry *Registry
	source   catalog.Source
	log      zerolog.Logger
}

func NewBuilder(db *sql.DB, registry *Registry, source catalog.Source, log zerolog.Logger) *Builder {
	return &Builder{db: db, registry: registry, source: source, log: log}
}

// TableName returns the published table name for a fingerprint. The name is
// derived from the hex fingerprint only, so it is always a safe identifier.
func TableName(fp Fingerprint) string {
	return publishedPrefix + string(fp)[:16]
}

func stagingName(fp Fingerprint) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_new_%s", TableName(fp), nonce)
}

// Build constructs and atomically publishes a buffer for the fingerprint.
// The catalog is queried with the normalized filter, matched rows are bulk
// inserted into a staging table, indexes are created after the load, any
// previously published table is dropped, and the staging table is renamed
// into place as the single publish point. Returns the item count.
func (b *Builder) Build(ctx context.Context, fp Fingerprint, spec catalog.Filter) (int64, error) {
	records, err := b.source.Query(ctx, spec)
	if err != nil {
		return 0, &UpstreamError{Err: err}
	}

	staging := stagingName(fp)
	if err := b.createTable(ctx, staging); err != nil {
		return 0, err
	}

	count, err := b.bulkInsert(ctx, staging, records)
	if err != nil {
		// The staging table is orphaned here; the sweep reclaims it.
		b.log.Error().Err(err).Str("staging", staging).Msg("bulk insert failed, staging table orphaned")
		return 0, err
	}

	if err := b.createIndexes(ctx, staging, spec.SortField); err != nil {
		b.log.Error().Err(err).Str("staging", staging).Msg("index build failed, staging table orphaned")
		return 0, err
	}

	published := TableName(fp)
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", published)); err != nil {
		return 0, storageErr("drop previous buffer", err)
	}
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", staging, published)); err != nil {
		return 0, storageErr("publish buffer", err)
	}

	specJSON, err := EncodeSpec(spec)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	rec := &Record{
		Fingerprint: fp,
		TableName:   published,
		ItemCount:   count,
		SizeBytes:   count * estimatedBytesPerRow,
		CreatedAt:   now,
		LastAccess:  now,
		FilterJSON:  string(specJSON),
	}
	if err := b.registry.Register(ctx, rec); err != nil {
		return 0, err
	}

	b.log.Debug().
		Str("fingerprint", string(fp)).
		Int64("items", count).
		Str("table", published).
		Msg("buffer published")
	return count, nil
}

// Rebuild drops any existing buffer and registry row for the fingerprint and
// builds fresh from the catalog. This is the only supported way to refresh a
// buffer after the source catalog has changed; cursors issued against the old
// generation are not portable to the new one.
func (b *Builder) Rebuild(ctx context.Context, fp Fingerprint, spec catalog.Filter) (int64, error) {
	published := TableName(fp)
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", published)); err != nil {
		return 0, storageErr("drop buffer for rebuild", err)
	}
	if err := b.registry.Delete(ctx, fp); err != nil {
		return 0, err
	}
	return b.Build(ctx, fp, spec)
}

func (b *Builder) createTable(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		type TEXT NOT NULL,
		ext TEXT NOT NULL,
		score INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		taken_at INTEGER NOT NULL,
		original_at INTEGER,
		nsfw INTEGER NOT NULL,
		nsfw_score REAL NOT NULL
	)`, name))
	if err != nil {
		return storageErr("create staging table", err)
	}
	return nil
}

// bulkInsert writes the projected records into the staging table inside one
// transaction. Insertion order follows the catalog's sort order, so row ids
// ascend in that order. Duplicate catalog ids are dropped via a roaring
// bitmap so a misbehaving source cannot produce duplicate buffer rows.
func (b *Builder) bulkInsert(ctx context.Context, table string, records []catalog.Record) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin bulk insert", err)
	}
	defer tx.Rollback() // Will be a no-op if transaction is committed

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (item_id, name, path, size, type, ext, score, width, height, taken_at, original_at, nsfw, nsfw_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		return 0, storageErr("prepare bulk insert", err)
	}
	defer stmt.Close()

	seen := roaring64.New()
	var count int64
	for _, rec := range records {
		if rec.ID >= 0 && seen.Contains(uint64(rec.ID)) {
			continue
		}
		if rec.ID >= 0 {
			seen.Add(uint64(rec.ID))
		}

		var originalAt any
		if rec.OriginalAt != nil {
			originalAt = rec.OriginalAt.UnixMilli()
		}
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.Name, rec.Path, rec.Size, rec.Type, rec.Ext, rec.Score,
			rec.Width, rec.Height, rec.TakenAt.UnixMilli(), originalAt,
			boolToInt(rec.NSFW), rec.NSFWScore)
		if err != nil {
			return 0, storageErr("bulk insert", err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit bulk insert", err)
	}
	return count, nil
}

// createIndexes builds the paginator's secondary indexes. Indexes are created
// after the bulk load on purpose; loading into an indexed table is markedly
// slower. Index names carry the staging nonce so generations never collide.
func (b *Builder) createIndexes(ctx context.Context, table string, sortField catalog.SortField) error {
	statements := []string{
		fmt.Sprintf("CREATE INDEX idx_%s_ord ON %s (COALESCE(original_at, taken_at) DESC, id DESC)", table, table),
		fmt.Sprintf("CREATE INDEX idx_%s_sort ON %s (%s DESC, id DESC)", table, table, sortColumn(sortField)),
		fmt.Sprintf("CREATE INDEX idx_%s_score ON %s (score)", table, table),
	}
	for _, statement := range statements {
		if _, err := b.db.ExecContext(ctx, statement); err != nil {
			return storageErr("create index", err)
		}
	}
	return nil
}

func sortColumn(f catalog.SortField) string {
	switch f {
	case catalog.SortByName:
		return "name"
	case catalog.SortBySize:
		return "size"
	case catalog.SortByScore:
		return "score"
	default:
		return "taken_at"
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
