package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/kretoffer/encode-now-backend/internal/models"
)

// SQLiteStore handles SQLite database operations. It serves single-node
// deployments and tests.
type SQLiteStore struct {
	db     *sql.DB
	window int
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/relay.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front, which serializes replay checks across connections.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db, window: ReplayWindow}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_key TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		recipient_id INTEGER NOT NULL REFERENCES users(id),
		ciphertext BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_hashes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient_id INTEGER NOT NULL REFERENCES users(id),
		content_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (recipient_id, content_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, id);
	CREATE INDEX IF NOT EXISTS idx_message_hashes_age ON message_hashes(recipient_id, created_at, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LookupIdentity returns the id registered for publicKey, if any.
func (s *SQLiteStore) LookupIdentity(ctx context.Context, publicKey string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM users WHERE public_key = ?
	`, publicKey).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// ResolveIdentity returns the id for publicKey, creating the identity on
// first sight. Concurrent first resolutions agree on a single row.
func (s *SQLiteStore) ResolveIdentity(ctx context.Context, publicKey string) (int64, error) {
	id, found, err := s.LookupIdentity(ctx, publicKey)
	if err != nil || found {
		return id, err
	}

	// The unique constraint lets exactly one racing insert win; the rest
	// are ignored and read the winner's row below.
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (public_key, created_at)
		VALUES (?, ?)
	`, publicKey, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	id, found, err = s.LookupIdentity(ctx, publicKey)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.New("identity vanished after insert")
	}
	return id, nil
}

// AppendMessage stores a message and its replay record in one transaction.
// It returns ErrDuplicate, with nothing written, when the recipient already
// holds contentHash in its replay window.
func (s *SQLiteStore) AppendMessage(ctx context.Context, senderID, recipientID int64, ciphertext []byte, contentHash string) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkAndRecord(ctx, sqliteReplayTx{tx}, recipientID, contentHash, s.window); err != nil {
		return nil, sqliteDuplicate(err)
	}

	msg := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Ciphertext:  ciphertext,
		CreatedAt:   time.Now().UTC(),
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (sender_id, recipient_id, ciphertext, created_at)
		VALUES (?, ?, ?, ?)
	`, senderID, recipientID, ciphertext, msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// sqliteDuplicate maps a unique violation on message_hashes to ErrDuplicate.
func sqliteDuplicate(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicate
	}
	return err
}

// Range returns a page of messages sent or received by userID.
func (s *SQLiteStore) Range(ctx context.Context, userID int64, q RangeQuery) ([]models.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch q.Mode {
	case RangeAfter:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, sender_id, recipient_id, ciphertext, created_at
			FROM messages
			WHERE (sender_id = ? OR recipient_id = ?) AND id > ?
			ORDER BY id ASC
			LIMIT ?
		`, userID, userID, q.Anchor, q.limit())
	case RangeBefore:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, sender_id, recipient_id, ciphertext, created_at
			FROM messages
			WHERE (sender_id = ? OR recipient_id = ?) AND id < ?
			ORDER BY id DESC
			LIMIT ?
		`, userID, userID, q.Anchor, q.limit())
	default:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, sender_id, recipient_id, ciphertext, created_at
			FROM messages
			WHERE sender_id = ? OR recipient_id = ?
			ORDER BY id DESC
			LIMIT ?
		`, userID, userID, q.limit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.RecipientID,
			&msg.Ciphertext,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if q.Mode != RangeAfter {
		messages = ascending(messages)
	}
	return messages, nil
}

// ReplayRecords lists the recipient's replay window, oldest first.
func (s *SQLiteStore) ReplayRecords(ctx context.Context, recipientID int64) ([]models.ReplayRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, content_hash, created_at
		FROM message_hashes
		WHERE recipient_id = ?
		ORDER BY created_at ASC, id ASC
	`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.ReplayRecord, 0)
	for rows.Next() {
		var rec models.ReplayRecord
		if err := rows.Scan(&rec.ID, &rec.RecipientID, &rec.ContentHash, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// sqliteReplayTx runs the replay guard statements on a database/sql
// transaction.
type sqliteReplayTx struct {
	tx *sql.Tx
}

func (t sqliteReplayTx) hashSeen(ctx context.Context, recipientID int64, contentHash string) (bool, error) {
	var seen bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_hashes
			WHERE recipient_id = ? AND content_hash = ?
		)
	`, recipientID, contentHash).Scan(&seen)
	return seen, err
}

func (t sqliteReplayTx) recordHash(ctx context.Context, recipientID int64, contentHash string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO message_hashes (recipient_id, content_hash, created_at)
		VALUES (?, ?, ?)
	`, recipientID, contentHash, time.Now().UTC())
	return err
}

func (t sqliteReplayTx) countHashes(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_hashes WHERE recipient_id = ?
	`, recipientID).Scan(&count)
	return count, err
}

func (t sqliteReplayTx) evictOldestHash(ctx context.Context, recipientID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM message_hashes
		WHERE id = (
			SELECT id FROM message_hashes
			WHERE recipient_id = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
	`, recipientID)
	return err
}
