// Package voicestore persists the per-book character voice table and the
// chapter detection cache in SQLite, so re-generating a chapter keeps the
// voices it was first rendered with.
package voicestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/config"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite-backed voice catalog.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store, creating the schema when absent.
func Open(ctx context.Context, cfg config.VoiceStoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS characters (
    book_id TEXT NOT NULL,
    key TEXT NOT NULL,
    display_name TEXT NOT NULL,
    gender TEXT,
    role TEXT,
    voice_id TEXT,
    narrator INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY(book_id, key)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_characters_one_narrator
    ON characters(book_id) WHERE narrator = 1;
CREATE TABLE IF NOT EXISTS voice_profiles (
    id TEXT PRIMARY KEY,
    backend TEXT NOT NULL,
    backend_voice TEXT NOT NULL,
    language TEXT,
    gender TEXT,
    style TEXT
);
CREATE TABLE IF NOT EXISTS detections (
    book_id TEXT NOT NULL,
    chapter_id TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    roster BLOB NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    PRIMARY KEY(book_id, chapter_id)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadTable reads one book's characters and profiles.
func (s *Store) LoadTable(ctx context.Context, bookID string) (map[string]book.Character, map[string]book.VoiceProfile, error) {
	chars := make(map[string]book.Character)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, display_name, gender, role, voice_id, narrator
		 FROM characters WHERE book_id = ?`, bookID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c book.Character
		var narrator int
		if err := rows.Scan(&c.Key, &c.DisplayName, &c.Gender, &c.Role, &c.VoiceID, &narrator); err != nil {
			return nil, nil, err
		}
		c.Narrator = narrator == 1
		chars[c.Key] = c
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	profiles := make(map[string]book.VoiceProfile)
	if len(chars) == 0 {
		return chars, profiles, nil
	}
	prows, err := s.db.QueryContext(ctx,
		`SELECT id, backend, backend_voice, language, gender, style FROM voice_profiles`)
	if err != nil {
		return nil, nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var p book.VoiceProfile
		if err := prows.Scan(&p.ID, &p.Backend, &p.BackendVoice, &p.Language, &p.Gender, &p.Style); err != nil {
			return nil, nil, err
		}
		profiles[p.ID] = p
	}
	return chars, profiles, prows.Err()
}

// SaveTable upserts one book's characters and profiles in a transaction.
func (s *Store) SaveTable(ctx context.Context, bookID string, chars map[string]book.Character, profiles map[string]book.VoiceProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range profiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO voice_profiles(id, backend, backend_voice, language, gender, style)
			 VALUES(?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			p.ID, p.Backend, p.BackendVoice, p.Language, p.Gender, p.Style); err != nil {
			return err
		}
	}
	for _, c := range chars {
		narrator := 0
		if c.Narrator {
			narrator = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO characters(book_id, key, display_name, gender, role, voice_id, narrator)
			 VALUES(?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(book_id, key) DO UPDATE SET
			   display_name=excluded.display_name,
			   gender=excluded.gender,
			   role=excluded.role,
			   voice_id=excluded.voice_id`,
			bookID, c.Key, c.DisplayName, c.Gender, c.Role, c.VoiceID, narrator); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CachedRoster returns the stored roster for a chapter when its text hash
// still matches.
func (s *Store) CachedRoster(ctx context.Context, bookID, chapterID, textHash string) (book.Roster, bool, error) {
	var storedHash string
	var payload []byte
	var detectedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT text_hash, roster, detected_at FROM detections
		 WHERE book_id = ? AND chapter_id = ?`, bookID, chapterID).
		Scan(&storedHash, &payload, &detectedAt)
	if err == sql.ErrNoRows {
		return book.Roster{}, false, nil
	}
	if err != nil {
		return book.Roster{}, false, err
	}
	if storedHash != textHash {
		return book.Roster{}, false, nil
	}

	var roster book.Roster
	if err := json.Unmarshal(payload, &roster.Characters); err != nil {
		s.log.Warn("discarding unreadable cached roster",
			slog.String("book_id", bookID),
			slog.String("chapter_id", chapterID),
			slog.String("error", err.Error()))
		return book.Roster{}, false, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, detectedAt); err == nil {
		roster.DetectedAt = ts
	}
	return roster, true, nil
}

// SaveRoster stores a chapter's detected roster keyed by its text hash.
func (s *Store) SaveRoster(ctx context.Context, bookID, chapterID, textHash string, roster book.Roster) error {
	payload, err := json.Marshal(roster.Characters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detections(book_id, chapter_id, text_hash, roster, detected_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(book_id, chapter_id) DO UPDATE SET
		   text_hash=excluded.text_hash,
		   roster=excluded.roster,
		   detected_at=excluded.detected_at`,
		bookID, chapterID, textHash, payload, s.clock().UTC().Format(time.RFC3339Nano))
	return err
}

// ResetBook clears a book's characters and detection cache. This is the
// only path that lets a re-generation pick different voices.
func (s *Store) ResetBook(ctx context.Context, bookID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM characters WHERE book_id = ?`, bookID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM detections WHERE book_id = ?`, bookID); err != nil {
		return err
	}
	return tx.Commit()
}
