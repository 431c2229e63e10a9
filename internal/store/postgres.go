package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kretoffer/encode-now-backend/internal/metrics"
	"github.com/kretoffer/encode-now-backend/internal/models"
)

const pgUniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool   *pgxpool.Pool
	window int
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, window: ReplayWindow}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// LookupIdentity returns the id registered for publicKey, if any.
func (s *PostgresStore) LookupIdentity(ctx context.Context, publicKey string) (int64, bool, error) {
	defer observe(time.Now())

	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM users WHERE public_key = $1
	`, publicKey).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// ResolveIdentity returns the id for publicKey, creating the identity on
// first sight. Concurrent first resolutions agree on a single row.
func (s *PostgresStore) ResolveIdentity(ctx context.Context, publicKey string) (int64, error) {
	id, found, err := s.LookupIdentity(ctx, publicKey)
	if err != nil || found {
		return id, err
	}

	start := time.Now()
	err = s.pool.QueryRow(ctx, `
		INSERT INTO users (public_key)
		VALUES ($1)
		ON CONFLICT (public_key) DO NOTHING
		RETURNING id
	`, publicKey).Scan(&id)
	observe(start)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Another request inserted the key first; read its row.
	id, found, err = s.LookupIdentity(ctx, publicKey)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.New("identity vanished after insert conflict")
	}
	return id, nil
}

// AppendMessage stores a message and its replay record in one transaction.
// It returns ErrDuplicate, with nothing written, when the recipient already
// holds contentHash in its replay window.
func (s *PostgresStore) AppendMessage(ctx context.Context, senderID, recipientID int64, ciphertext []byte, contentHash string) (*models.Message, error) {
	defer observe(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Row lock on the recipient serializes replay checks per recipient.
	var locked int64
	if err := tx.QueryRow(ctx, `
		SELECT id FROM users WHERE id = $1 FOR UPDATE
	`, recipientID).Scan(&locked); err != nil {
		return nil, err
	}

	if err := checkAndRecord(ctx, pgReplayTx{tx}, recipientID, contentHash, s.window); err != nil {
		return nil, pgDuplicate(err)
	}

	msg := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Ciphertext:  ciphertext,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (sender_id, recipient_id, ciphertext)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, senderID, recipientID, ciphertext).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, pgDuplicate(err)
	}
	return msg, nil
}

// pgDuplicate maps a unique violation on message_hashes to ErrDuplicate.
func pgDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

// Range returns a page of messages sent or received by userID.
func (s *PostgresStore) Range(ctx context.Context, userID int64, q RangeQuery) ([]models.Message, error) {
	defer observe(time.Now())

	var (
		rows pgx.Rows
		err  error
	)
	switch q.Mode {
	case RangeAfter:
		rows, err = s.pool.Query(ctx, `
			SELECT id, sender_id, recipient_id, ciphertext, created_at
			FROM messages
			WHERE (sender_id = $1 OR recipient_id = $1) AND id > $2
			ORDER BY id ASC
			LIMIT $3
		`, userID, q.Anchor, q.limit())
	case RangeBefore:
		rows, err = s.pool.Query(ctx, `
			SELECT id, sender_id, recipient_id, ciphertext, created_at
			FROM messages
			WHERE (sender_id = $1 OR recipient_id = $1) AND id < $2
			ORDER BY id DESC
			LIMIT $3
		`, userID, q.Anchor, q.limit())
	default:
		rows, err = s.pool.Query(ctx, `
			SELECT id, sender_id, recipient_id, ciphertext, created_at
			FROM messages
			WHERE sender_id = $1 OR recipient_id = $1
			ORDER BY id DESC
			LIMIT $2
		`, userID, q.limit())
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
func (s *PostgresStore) ReplayRecords(ctx context.Context, recipientID int64) ([]models.ReplayRecord, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient_id, content_hash, created_at
		FROM message_hashes
		WHERE recipient_id = $1
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

// pgReplayTx runs the replay guard statements on a pgx transaction.
type pgReplayTx struct {
	tx pgx.Tx
}

func (t pgReplayTx) hashSeen(ctx context.Context, recipientID int64, contentHash string) (bool, error) {
	var seen bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_hashes
			WHERE recipient_id = $1 AND content_hash = $2
		)
	`, recipientID, contentHash).Scan(&seen)
	return seen, err
}

func (t pgReplayTx) recordHash(ctx context.Context, recipientID int64, contentHash string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO message_hashes (recipient_id, content_hash, created_at)
		VALUES ($1, $2, clock_timestamp())
	`, recipientID, contentHash)
	return err
}

func (t pgReplayTx) countHashes(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM message_hashes WHERE recipient_id = $1
	`, recipientID).Scan(&count)
	return count, err
}

func (t pgReplayTx) evictOldestHash(ctx context.Context, recipientID int64) error {
	_, err := t.tx.Exec(ctx, `
		DELETE FROM message_hashes
		WHERE id = (
			SELECT id FROM message_hashes
			WHERE recipient_id = $1
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
	`, recipientID)
	return err
}
