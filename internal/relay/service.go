// Package relay composes identity resolution, the message store with its
// replay guard, and the notification hub into the three relay operations.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kretoffer/encode-now-backend/internal/hub"
	"github.com/kretoffer/encode-now-backend/internal/metrics"
	"github.com/kretoffer/encode-now-backend/internal/models"
	"github.com/kretoffer/encode-now-backend/internal/store"
)

const notifyTimeout = 5 * time.Second

// HistoryQuery selects a page of history. At most one of SinceID and
// UntilID may be set; with neither, the latest page is returned.
type HistoryQuery struct {
	SinceID *int64
	UntilID *int64
	Limit   int
}

// Options tunes orchestrator policy.
type Options struct {
	// MaxHistoryLimit caps history page size. Zero leaves it uncapped.
	MaxHistoryLimit int
}

// Service runs relay requests against a store and a hub.
type Service struct {
	store  store.DataStore
	hub    hub.Hub
	logger zerolog.Logger
	opts   Options
}

// NewService creates a new Service.
func NewService(ds store.DataStore, h hub.Hub, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		store:  ds,
		hub:    h,
		logger: logger.With().Str("component", "relay").Logger(),
		opts:   opts,
	}
}

// Submit stores ciphertext from senderKey to recipientKey and returns the
// new message id. Identities are created on first sight. A ciphertext the
// recipient accepted recently is rejected with KindDuplicate and not stored.
func (s *Service) Submit(ctx context.Context, senderKey, recipientKey string, ciphertext []byte) (int64, error) {
	const op = "submit"

	if len(ciphertext) == 0 {
		return 0, validationError(op, "request body cannot be empty")
	}
	if senderKey == "" {
		return 0, validationError(op, "sender public key is required")
	}
	if recipientKey == "" {
		return 0, validationError(op, "recipient public key is required")
	}

	senderID, err := s.store.ResolveIdentity(ctx, senderKey)
	if err != nil {
		return 0, storageError(op, err)
	}
	recipientID, err := s.store.ResolveIdentity(ctx, recipientKey)
	if err != nil {
		return 0, storageError(op, err)
	}

	msg, err := s.store.AppendMessage(ctx, senderID, recipientID, ciphertext, ContentHash(ciphertext))
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.DuplicatesRejected.Inc()
			return 0, &Error{Kind: KindDuplicate, Op: op, Msg: "message already accepted for recipient", Err: err}
		}
		return 0, storageError(op, err)
	}
	metrics.MessagesSubmitted.Inc()

	s.notify(ctx, *msg)

	return msg.ID, nil
}

// notify pushes a committed message to live waiters. Failures are logged
// and never reach the submitter.
func (s *Service) notify(ctx context.Context, msg models.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.NotifyFailures.Inc()
			s.logger.Error().
				Interface("panic", r).
				Int64("message_id", msg.ID).
				Msg("notification hub panicked")
		}
	}()

	if err := s.hub.Deliver(ctx, msg.RecipientID, msg); err != nil {
		metrics.NotifyFailures.Inc()
		s.logger.Warn().
			Err(err).
			Int64("message_id", msg.ID).
			Int64("recipient_id", msg.RecipientID).
			Msg("live notification failed")
	}
}

// FetchHistory returns messages sent or received by key in ascending id
// order. An unknown key has no messages and yields an empty slice.
func (s *Service) FetchHistory(ctx context.Context, key string, q HistoryQuery) ([]models.Message, error) {
	const op = "history"

	if q.SinceID != nil && q.UntilID != nil {
		return nil, validationError(op, "since_id and until_id are mutually exclusive")
	}
	if key == "" {
		return nil, validationError(op, "public_key is required")
	}
	if q.Limit < 0 {
		return nil, validationError(op, "limit must not be negative")
	}

	rq := store.RangeQuery{Mode: store.RangeLatest, Limit: q.Limit}
	switch {
	case q.SinceID != nil:
		rq.Mode, rq.Anchor = store.RangeAfter, *q.SinceID
	case q.UntilID != nil:
		rq.Mode, rq.Anchor = store.RangeBefore, *q.UntilID
	}
	if rq.Limit == 0 {
		rq.Limit = store.DefaultLimit
	}
	if s.opts.MaxHistoryLimit > 0 && rq.Limit > s.opts.MaxHistoryLimit {
		rq.Limit = s.opts.MaxHistoryLimit
	}

	userID, found, err := s.store.LookupIdentity(ctx, key)
	if err != nil {
		return nil, storageError(op, err)
	}
	if !found {
		return []models.Message{}, nil
	}

	msgs, err := s.store.Range(ctx, userID, rq)
	if err != nil {
		return nil, storageError(op, err)
	}
	return msgs, nil
}

// WaitForLive blocks until a message for key arrives or the hub times out.
// The key must belong to a known identity.
func (s *Service) WaitForLive(ctx context.Context, key string) ([]models.Message, error) {
	const op = "poll"

	if key == "" {
		return nil, validationError(op, "public_key is required")
	}

	userID, found, err := s.store.LookupIdentity(ctx, key)
	if err != nil {
		return nil, storageError(op, err)
	}
	if !found {
		return nil, &Error{Kind: KindNotFound, Op: op, Msg: "unknown public key"}
	}

	msgs, err := s.hub.Wait(ctx, userID)
	if err != nil {
		return nil, storageError(op, err)
	}
	return msgs, nil
}
