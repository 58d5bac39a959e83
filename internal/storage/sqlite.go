// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/thinkchat/internal/memory"
	"github.com/jeranaias/thinkchat/internal/model"
)

// Schema creates the conversation and fact tables.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    model         TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    last_updated  INTEGER NOT NULL,
    message_count INTEGER NOT NULL,
    preview       TEXT NOT NULL DEFAULT '',
    search_text   TEXT NOT NULL DEFAULT '',
    data          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(last_updated DESC);

CREATE TABLE IF NOT EXISTS facts (
    id         TEXT PRIMARY KEY,
    text       TEXT NOT NULL,
    norm       TEXT NOT NULL UNIQUE,
    source     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps conversations and memory facts in one SQLite database.
// It implements both Store and memory.Store.
type SQLiteStore struct {
	db *sql.DB

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int
	// MaxFacts limits stored memory facts (0 = unlimited)
	MaxFacts int

	mu sync.Mutex
}

var _ memory.Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000", // 16MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "set pragma %q", pragma)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Get loads a conversation by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM conversations WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query conversation %s", id)
	}
	var conv model.Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, errors.Wrapf(err, "decode conversation %s", id)
	}
	return &conv, nil
}

// Set upserts a conversation and prunes beyond MaxConversations.
func (s *SQLiteStore) Set(ctx context.Context, conv *model.Conversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	if err := ValidateID(conv.ID); err != nil {
		return err
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return errors.Wrap(err, "encode conversation")
	}
	meta := MetaOf(conv)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, created_at, last_updated, message_count, preview, search_text, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			last_updated = excluded.last_updated,
			message_count = excluded.message_count,
			preview = excluded.preview,
			search_text = excluded.search_text,
			data = excluded.data`,
		meta.ID, meta.Title, meta.Model,
		toUnix(meta.CreatedAt), toUnix(meta.LastUpdated),
		meta.MessageCount, meta.Preview, searchText(conv), string(data))
	if err != nil {
		return errors.Wrapf(err, "upsert conversation %s", conv.ID)
	}

	if s.MaxConversations > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM conversations WHERE id NOT IN (
				SELECT id FROM conversations ORDER BY last_updated DESC, rowid DESC LIMIT ?
			)`, s.MaxConversations)
		if err != nil {
			return errors.Wrap(err, "prune conversations")
		}
	}

	return errors.Wrap(tx.Commit(), "commit conversation")
}

// Delete removes a conversation by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete conversation %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Index lists conversations, most recently updated first.
func (s *SQLiteStore) Index(ctx context.Context) ([]Meta, error) {
	return s.queryMetas(ctx, "", nil)
}

// Search matches query against titles and message text.
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]Meta, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.Index(ctx)
	}
	return s.queryMetas(ctx, `WHERE search_text LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(query) + "%"})
}

func (s *SQLiteStore) queryMetas(ctx context.Context, where string, args []any) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, model, created_at, last_updated, message_count, preview
		FROM conversations `+where+`
		ORDER BY last_updated DESC, rowid DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "conversation list query failed")
	}
	defer rows.Close()

	metas := []Meta{}
	for rows.Next() {
		var m Meta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Title, &m.Model, &created, &updated, &m.MessageCount, &m.Preview); err != nil {
			return nil, errors.Wrap(err, "scan conversation row")
		}
		m.CreatedAt, m.LastUpdated = fromUnix(created), fromUnix(updated)
		metas = append(metas, m)
	}
	return metas, errors.Wrap(rows.Err(), "conversation list rows")
}

// =============================================================================
// MEMORY FACTS
// =============================================================================

// Facts returns all facts, oldest first.
func (s *SQLiteStore) Facts(ctx context.Context) ([]memory.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, source, created_at FROM facts ORDER BY created_at, rowid")
	if err != nil {
		return nil, errors.Wrap(err, "fact query failed")
	}
	defer rows.Close()

	var facts []memory.Fact
	for rows.Next() {
		var f memory.Fact
		var created int64
		if err := rows.Scan(&f.ID, &f.Text, &f.Source, &created); err != nil {
			return nil, errors.Wrap(err, "scan fact row")
		}
		f.CreatedAt = fromUnix(created)
		facts = append(facts, f)
	}
	return facts, errors.Wrap(rows.Err(), "fact rows")
}

// AddFacts inserts facts whose normalized text is new.
func (s *SQLiteStore) AddFacts(ctx context.Context, facts []memory.Fact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	added := 0
	for _, f := range facts {
		norm := memory.Normalize(f.Text)
		if norm == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO facts (id, text, norm, source, created_at) VALUES (?, ?, ?, ?, ?)",
			f.ID, f.Text, norm, f.Source, toUnix(f.CreatedAt))
		if err != nil {
			return 0, errors.Wrap(err, "insert fact")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if s.MaxFacts > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM facts WHERE id NOT IN (
				SELECT id FROM facts ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`, s.MaxFacts)
		if err != nil {
			return 0, errors.Wrap(err, "prune facts")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit facts")
	}
	return added, nil
}

// Clear deletes every fact.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM facts")
	return errors.Wrap(err, "clear facts")
}

// =============================================================================
// HELPERS
// =============================================================================

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func searchText(conv *model.Conversation) string {
	var sb strings.Builder
	sb.WriteString(conv.Title)
	for _, m := range conv.Messages {
		sb.WriteString("\n")
		sb.WriteString(m.Content)
	}
	return strings.ToLower(sb.String())
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
