package store

import (
	"context"
	"errors"

	"github.com/kretoffer/encode-now-backend/internal/models"
)

const (
	// DefaultLimit is the page size used when a range query leaves it unset.
	DefaultLimit = 100

	// ReplayWindow is how many content hashes are remembered per recipient.
	ReplayWindow = 50
)

// ErrDuplicate is returned by AppendMessage when the recipient already
// accepted a message with the same content hash inside the replay window.
var ErrDuplicate = errors.New("duplicate message for recipient")

// RangeMode selects which slice of a user's messages Range returns.
type RangeMode int

const (
	// RangeLatest selects the newest messages.
	RangeLatest RangeMode = iota
	// RangeAfter selects messages with id greater than the anchor.
	RangeAfter
	// RangeBefore selects the newest messages with id less than the anchor.
	RangeBefore
)

func (m RangeMode) String() string {
	switch m {
	case RangeAfter:
		return "after"
	case RangeBefore:
		return "before"
	default:
		return "latest"
	}
}

// RangeQuery describes a page of messages. Results are always returned in
// ascending id order regardless of mode.
type RangeQuery struct {
	Mode   RangeMode
	Anchor int64
	Limit  int
}

func (q RangeQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// DataStore defines durable storage for identities, messages and replay
// records. Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Identity operations
	ResolveIdentity(ctx context.Context, publicKey string) (int64, error)
	LookupIdentity(ctx context.Context, publicKey string) (int64, bool, error)

	// Message operations
	AppendMessage(ctx context.Context, senderID, recipientID int64, ciphertext []byte, contentHash string) (*models.Message, error)
	Range(ctx context.Context, userID int64, q RangeQuery) ([]models.Message, error)

	// Replay window inspection
	ReplayRecords(ctx context.Context, recipientID int64) ([]models.ReplayRecord, error)
}

// ascending reverses a page fetched newest-first.
func ascending(msgs []models.Message) []models.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
