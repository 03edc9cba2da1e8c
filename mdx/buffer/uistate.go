package buffer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/armon/go-radix"
	json "github.com/goccy/go-json"
)

// StateStore is a minimal keyed blob store for transient UI state, riding on
// the same storage engine as the buffers. Writes overwrite wholesale; there
// is no TTL and no eviction. Values are stored as JSON so the representation
// stays language-agnostic. A radix tree mirrors the key set in memory for
// cheap prefix listing.
type StateStore struct {
	db *sql.DB

	mu   sync.Mutex
	keys *radix.Tree
}

func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db, keys: radix.New()}
}

// Init creates the schema and loads the existing key set into the radix
// index.
func (s *StateStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ui_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return storageErr("ui state init", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM ui_state")
	if err != nil {
		return storageErr("ui state key load", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = radix.New()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return storageErr("ui state key load", err)
		}
		s.keys.Insert(key, struct{}{})
	}
	if err := rows.Err(); err != nil {
		return storageErr("ui state key load", err)
	}
	return nil
}

// Put serializes value as JSON and upserts it under key.
func (s *StateStore) Put(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ui_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(encoded), time.Now().UnixNano())
	if err != nil {
		return storageErr("ui state put", err)
	}

	s.mu.Lock()
	s.keys.Insert(key, struct{}{})
	s.mu.Unlock()
	return nil
}

// Get unmarshals the stored value for key into out. Returns false when the
// key has never been written.
func (s *StateStore) Get(ctx context.Context, key string, out any) (bool, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM ui_state WHERE key = ?", key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("ui state get", err)
	}
	if err := json.Unmarshal([]byte(encoded), out); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key; deleting an absent key is not an error.
func (s *StateStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM ui_state WHERE key = ?", key)
	if err != nil {
		return storageErr("ui state delete", err)
	}
	s.mu.Lock()
	s.keys.Delete(key)
	s.mu.Unlock()
	return nil
}

// ListKeys returns all stored keys sharing the given prefix, in sorted order.
func (s *StateStore) ListKeys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	s.keys.WalkPrefix(prefix, func(key string, _ any) bool {
		keys = append(keys, key)
		return false
	})
	return keys
}
