package buffer

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Row is one page entry read back from a buffer table. Ordering carries the
// row's effective ordering timestamp (original time falling back to the
// primary time) in unix milliseconds.
type Row struct {
	RowID      int64
	ItemID     int64
	Name       string
	Path       string
	Size       int64
	Type       string
	Ext        string
	Score      int
	Width      int
	Height     int
	TakenAt    time.Time
	OriginalAt *time.Time
	NSFW       bool
	NSFWScore  float64
	Ordering   int64
}

// Cursor identifies the last row returned by a page. It is only meaningful
// against the buffer generation that issued it; a rebuild invalidates any
// outstanding cursors for that fingerprint.
type Cursor struct {
	Ordering int64 `json:"o"`
	RowID    int64 `json:"r"`
}

// Token encodes the cursor as an opaque URL-safe string for transport layers.
func (c Cursor) Token() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// ParseCursor decodes a cursor token produced by Token.
func ParseCursor(token string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor token: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor token: %w", err)
	}
	return &c, nil
}

// Paginator reads pages out of published buffers using keyset continuation.
type Paginator struct {
	db       *sql.DB
	registry *Registry
}

func NewPaginator(db *sql.DB, registry *Registry) *Paginator {
	return &Paginator{db: db, registry: registry}
}

// Page returns up to limit rows from the buffer for fp, continuing after
// cursor when one is given. Ordering is COALESCE(original_at, taken_at)
// descending with row id descending as tie-breaker, so pages never skip or
// repeat rows even when many rows share an ordering value. A next cursor is
// returned iff the page came back full; callers must treat a subsequent
// empty page as authoritative end of data. Fetching a page counts as buffer
// usage and refreshes the registry's last-access time.
func (p *Paginator) Page(ctx context.Context, fp Fingerprint, cursor *Cursor, limit int) ([]Row, *Cursor, error) {
	if limit <= 0 {
		return nil, nil, fmt.Errorf("page limit must be positive: %d", limit)
	}

	rec, err := p.registry.Lookup(ctx, fp)
	if err != nil {
		return nil, nil, err
	}

	query := fmt.Sprintf(
		`SELECT id, item_id, name, path, size, type, ext, score, width, height,
			taken_at, original_at, nsfw, nsfw_score,
			COALESCE(original_at, taken_at) AS ord
		 FROM %s`, rec.TableName)
	args := make([]any, 0, 3)
	if cursor != nil {
		query += ` WHERE COALESCE(original_at, taken_at) < ?
			OR (COALESCE(original_at, taken_at) = ? AND id < ?)`
		args = append(args, cursor.Ordering, cursor.Ordering, cursor.RowID)
	}
	query += " ORDER BY ord DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, storageErr("page query", err)
	}
	defer rows.Close()

	var page []Row
	for rows.Next() {
		var row Row
		var takenAt int64
		var originalAt sql.NullInt64
		var nsfw int
		if err := rows.Scan(&row.RowID, &row.ItemID, &row.Name, &row.Path, &row.Size,
			&row.Type, &row.Ext, &row.Score, &row.Width, &row.Height,
			&takenAt, &originalAt, &nsfw, &row.NSFWScore, &row.Ordering); err != nil {
			return nil, nil, storageErr("page scan", err)
		}
		row.TakenAt = time.UnixMilli(takenAt)
		if originalAt.Valid {
			t := time.UnixMilli(originalAt.Int64)
			row.OriginalAt = &t
		}
		row.NSFW = nsfw != 0
		page = append(page, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storageErr("page iteration", err)
	}

	// A full page implies there may be more; a short page means exhaustion.
	var next *Cursor
	if len(page) == limit {
		last := page[len(page)-1]
		next = &Cursor{Ordering: last.Ordering, RowID: last.RowID}
	}
	return page, next, nil
}
