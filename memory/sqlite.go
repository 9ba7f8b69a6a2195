package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/conclave/core"
)

// SQLiteStore is a core.Memory persisted in a SQLite database. It has the
// same two-tier semantics as InMemoryStore and survives process restarts.
type SQLiteStore struct {
	db       *sql.DB
	maxItems int
	now      func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" keeps
// everything in a single private connection.
func NewSQLiteStore(path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	opts := Options{MaxItems: DefaultMaxItems, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, maxItems: opts.MaxItems, now: opts.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT NOT NULL UNIQUE,
			key         TEXT NOT NULL,
			content     TEXT NOT NULL,
			metadata    TEXT,
			permanent   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(permanent, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_key ON memories(key)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

// Store records content under key; see InMemoryStore.Store.
func (s *SQLiteStore) Store(ctx context.Context, key, content string, metadata map[string]any, permanent bool) (core.MemoryItem, error) {
	item := core.MemoryItem{
		ID:        uuid.NewString(),
		Key:       key,
		Content:   content,
		Metadata:  copyMetadata(metadata),
		Timestamp: s.now().UTC(),
		Permanent: permanent,
	}

	var md *string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return core.MemoryItem{}, fmt.Errorf("encode metadata: %w", err)
		}
		str := string(b)
		md = &str
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.MemoryItem{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if permanent {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE permanent = TRUE AND key = ?`, key); err != nil {
			return core.MemoryItem{}, fmt.Errorf("replace memory: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, key, content, metadata, permanent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Key, item.Content, md, item.Permanent, item.Timestamp.UnixNano()); err != nil {
		return core.MemoryItem{}, fmt.Errorf("save memory: %w", err)
	}

	if !permanent {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM memories
			WHERE permanent = FALSE AND seq NOT IN (
				SELECT seq FROM memories WHERE permanent = FALSE ORDER BY seq DESC LIMIT ?
			)`, s.maxItems); err != nil {
			return core.MemoryItem{}, fmt.Errorf("evict memories: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.MemoryItem{}, fmt.Errorf("commit: %w", err)
	}

	return item, nil
}

// StoreExchange implements core.MemoryStore.
func (s *SQLiteStore) StoreExchange(ctx context.Context, input, response string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE permanent = FALSE`).Scan(&n); err != nil {
		return fmt.Errorf("count memories: %w", err)
	}

	_, err := s.Store(ctx, fmt.Sprintf("exchange_%d", n), FormatExchange(input, response), map[string]any{"input": input}, false)

	return err
}

// Retrieve returns the newest short-term item with key, falling back to the
// permanent tier.
func (s *SQLiteStore) Retrieve(ctx context.Context, key string) (core.MemoryItem, bool, error) {
	recs, err := s.query(ctx, `
		SELECT seq, id, key, content, metadata, permanent, created_at
		FROM memories
		WHERE key = ?
		ORDER BY permanent ASC, seq DESC
		LIMIT 1`, key)
	if err != nil {
		return core.MemoryItem{}, false, err
	}
	if len(recs) == 0 {
		return core.MemoryItem{}, false, nil
	}

	return recs[0].item, true, nil
}

// RetrieveShortTerm returns the short-term items oldest first.
func (s *SQLiteStore) RetrieveShortTerm(ctx context.Context) ([]core.MemoryItem, error) {
	recs, err := s.query(ctx, `
		SELECT seq, id, key, content, metadata, permanent, created_at
		FROM memories
		WHERE permanent = FALSE
		ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}

	out := make([]core.MemoryItem, len(recs))
	for i, r := range recs {
		out[i] = r.item
	}

	return out, nil
}

// RetrieveRelevant implements core.MemoryStore with the same ranking as
// InMemoryStore.
func (s *SQLiteStore) RetrieveRelevant(ctx context.Context, query string, limit int) ([]core.MemoryItem, error) {
	recs, err := s.query(ctx, `
		SELECT seq, id, key, content, metadata, permanent, created_at
		FROM memories`)
	if err != nil {
		return nil, err
	}

	ranked := rank(query, recs)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked, nil
}

// Delete removes the item with the given id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}

	return nil
}

// ClearShortTerm drops every short-term item.
func (s *SQLiteStore) ClearShortTerm(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE permanent = FALSE`); err != nil {
		return fmt.Errorf("clear short-term: %w", err)
	}
	return nil
}

// ClearAll drops both tiers.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []record
	for rows.Next() {
		var (
			rec       record
			seq       int64
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&seq, &rec.item.ID, &rec.item.Key, &rec.item.Content, &metadata, &rec.item.Permanent, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.seq = uint64(seq)
		rec.item.Timestamp = time.Unix(0, createdAt).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.item.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	return out, nil
}
