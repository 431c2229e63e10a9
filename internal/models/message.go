package models

import "time"

// Message is an opaque ciphertext relayed from one identity to another.
// ID order is the only chronological order; CreatedAt is informational.
type Message struct {
	ID          int64     `json:"id" msgpack:"id"`
	SenderID    int64     `json:"sender_id" msgpack:"sender_id"`
	RecipientID int64     `json:"recipient_id" msgpack:"recipient_id"`
	Ciphertext  []byte    `json:"ciphertext" msgpack:"ciphertext"` // base64 in JSON
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
}
