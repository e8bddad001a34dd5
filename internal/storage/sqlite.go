package storage

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding chats, flashcards and the
// embedding cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "drleelm.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chats ---

// AppendMessages adds messages to a chat, creating it with title when it
// does not exist yet. The chat's updated_at moves to now.
func (s *Store) AppendMessages(chatID, title string, msgs ...ChatMessage) error {
	now := formatTime(s.now())
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		chatID, title, now, now,
	); err != nil {
		return fmt.Errorf("upserting chat %s: %w", chatID, err)
	}

	for _, m := range msgs {
		if _, err := tx.Exec(`INSERT INTO chat_messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			chatID, m.Role, m.Content, now,
		); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}
	return tx.Commit()
}

// ListChats returns chats, most recently updated first.
func (s *Store) ListChats(limit int) ([]Chat, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (Chat, error) {
	var c Chat
	var createdAt, updatedAt string
	if err := r.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
		return Chat{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Chat{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Chat{}, err
	}
	return c, nil
}

// GetChat returns a chat and its messages in insertion order.
func (s *Store) GetChat(id string) (Chat, []ChatMessage, error) {
	c, err := scanChat(s.db.QueryRow(`SELECT id, title, created_at, updated_at FROM chats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, nil, ErrNotFound
	}
	if err != nil {
		return Chat{}, nil, err
	}
	msgs, err := s.ChatMessages(id, 0)
	if err != nil {
		return Chat{}, nil, err
	}
	return c, msgs, nil
}

// ChatMessages returns the last limit messages of a chat in insertion
// order. A limit of 0 returns all of them.
func (s *Store) ChatMessages(chatID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, chat_id, role, content, created_at FROM (
			SELECT * FROM chat_messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteChat removes a chat and its messages.
func (s *Store) DeleteChat(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chat_messages WHERE chat_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Flashcards ---

func (s *Store) SaveFlashcard(f Flashcard) (Flashcard, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO flashcards (id, question, answer, tag, source, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET question = excluded.question, answer = excluded.answer,
			tag = excluded.tag, source = excluded.source`,
		f.ID, f.Question, f.Answer, f.Tag, f.Source, formatTime(f.CreatedAt),
	)
	if err != nil {
		return Flashcard{}, fmt.Errorf("saving flashcard %s: %w", f.ID, err)
	}
	return f, nil
}

// ListFlashcards returns flashcards newest first, optionally filtered by tag.
func (s *Store) ListFlashcards(tag string, limit int) ([]Flashcard, error) {
	query := `SELECT id, question, answer, tag, source, created_at FROM flashcards`
	args := []any{}
	if tag != "" {
		query += ` WHERE tag = ?`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := []Flashcard{}
	for rows.Next() {
		var f Flashcard
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &f.Tag, &f.Source, &createdAt); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		cards = append(cards, f)
	}
	return cards, rows.Err()
}

func (s *Store) DeleteFlashcard(id string) error {
	res, err := s.db.Exec(`DELETE FROM flashcards WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// --- Embedding cache ---

// CachedEmbedding returns the stored vector for (model, hash).
func (s *Store) CachedEmbedding(model, hash string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT vector FROM embedding_cache WHERE model = ? AND hash = ?`, model, hash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeFloat32s(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *Store) PutEmbedding(model, hash string, vec []float32) error {
	_, err := s.db.Exec(`
		INSERT INTO embedding_cache (model, hash, vector, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(model, hash) DO UPDATE SET vector = excluded.vector`,
		model, hash, encodeFloat32s(vec), formatTime(s.now()),
	)
	return err
}

// encodeFloat32s packs a float32 slice into little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
