package models

import "time"

// Identity is a participant, known only by its public key.
type Identity struct {
	ID        int64     `json:"id"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}
