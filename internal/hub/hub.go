// Package hub lets a recipient's long-poll suspend until a message for it
// is committed. It is a push shortcut only; the store remains the system of
// record, so a message delivered while nobody waits is simply not pushed.
package hub

import (
	"context"
	"time"

	"github.com/kretoffer/encode-now-backend/internal/models"
)

// DefaultTimeout bounds a single wait.
const DefaultTimeout = 45 * time.Second

// Hub delivers newly stored messages to recipients that are waiting.
//
// Every concurrent Wait for a recipient is an independent subscriber and
// receives every message delivered while it is registered. Wait returns an
// empty slice, not an error, when the timeout elapses or ctx is cancelled.
type Hub interface {
	Wait(ctx context.Context, recipientID int64) ([]models.Message, error)
	Deliver(ctx context.Context, recipientID int64, msg models.Message) error
}

const (
	outcomeDelivered = "delivered"
	outcomeTimeout   = "timeout"
	outcomeCancelled = "cancelled"
)
