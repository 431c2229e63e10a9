package models

import "time"

// ReplayRecord remembers the content hash of an accepted message for a
// recipient. Only the most recent few per recipient are retained.
type ReplayRecord struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	ContentHash string    `json:"content_hash"` // hex SHA-256
	CreatedAt   time.Time `json:"created_at"`
}
