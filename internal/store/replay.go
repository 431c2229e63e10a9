package store

import (
	"context"
	"fmt"
)

// replayTx is the part of an open transaction the replay guard needs.
// Each backend supplies its own SQL.
type replayTx interface {
	hashSeen(ctx context.Context, recipientID int64, contentHash string) (bool, error)
	recordHash(ctx context.Context, recipientID int64, contentHash string) error
	countHashes(ctx context.Context, recipientID int64) (int, error)
	evictOldestHash(ctx context.Context, recipientID int64) error
}

// checkAndRecord rejects a content hash the recipient has already accepted
// and otherwise records it, evicting the oldest record once the recipient
// holds more than window entries. It must run inside the same transaction
// as the message insert, with the recipient serialized.
//
// The window is a bounded best-effort defense: a hash that has been pushed
// out by window newer messages is accepted again.
func checkAndRecord(ctx context.Context, tx replayTx, recipientID int64, contentHash string, window int) error {
	seen, err := tx.hashSeen(ctx, recipientID, contentHash)
	if err != nil {
		return fmt.Errorf("replay lookup: %w", err)
	}
	if seen {
		return ErrDuplicate
	}

	if err := tx.recordHash(ctx, recipientID, contentHash); err != nil {
		return fmt.Errorf("replay insert: %w", err)
	}

	count, err := tx.countHashes(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("replay count: %w", err)
	}
	// One insert per call, so one eviction keeps count <= window.
	if count > window {
		if err := tx.evictOldestHash(ctx, recipientID); err != nil {
			return fmt.Errorf("replay trim: %w", err)
		}
	}
	return nil
}
