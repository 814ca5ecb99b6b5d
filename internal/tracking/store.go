package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/whisper/comment-moderator/internal/metrics"
)

const lockStripes = 256

// Durable is the remote keyed tier. Get returns nil data and a nil error when
// the key does not exist.
type Durable interface {
	Get(ctx context.Context, messageID int64) ([]byte, error)
	Set(ctx context.Context, messageID int64, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, messageID int64) error
}

// Options configures a Store.
type Options struct {
	Capacity       int           // max messages held in memory
	Retention      time.Duration // lifetime of an entry after its last check
	DurableTimeout time.Duration // bound on every durable tier call
	Logger         *slog.Logger
	Now            func() time.Time // clock, defaults to time.Now
}

// Store is the two-tier message track store. Entries in the fast tier are
// treated as immutable snapshots; every mutation replaces the entry.
//
// Operations on one message are serialized through a striped lock so edits
// of the same message never interleave. Different messages run in parallel.
type Store struct {
	fast    *expirable.LRU[int64, *TrackedMessage]
	durable Durable

	locks [lockStripes]sync.Mutex

	retention time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates a Store. durable may be nil, in which case tracking is
// memory only.
func NewStore(durable Durable, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DurableTimeout <= 0 {
		opts.DurableTimeout = 2 * time.Second
	}
	return &Store{
		fast:      expirable.NewLRU[int64, *TrackedMessage](opts.Capacity, nil, opts.Retention),
		durable:   durable,
		retention: opts.Retention,
		timeout:   opts.DurableTimeout,
		logger:    opts.Logger.With("component", "tracking"),
		now:       opts.Now,
	}
}

func (s *Store) lockFor(messageID int64) *sync.Mutex {
	return &s.locks[uint64(messageID)%lockStripes]
}

// Track records the baseline of a new message in both tiers, replacing any
// previous entry for the same id.
func (s *Store) Track(ctx context.Context, messageID int64, text string, sentiment float64, userID int64, handle string) {
	mu := s.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	msg := &TrackedMessage{
		MessageID:         messageID,
		OriginalText:      text,
		OriginalSentiment: sentiment,
		CreatedAt:         now,
		LastCheckedAt:     now,
		EditHistory:       []EditRecord{},
		OwnerUserID:       userID,
		OwnerHandle:       handle,
	}
	s.fast.Add(messageID, msg)
	metrics.TrackedMessages.Set(float64(s.fast.Len()))
	s.writeDurable(ctx, msg)
}

// Get returns a copy of the tracked message. On a fast tier miss the durable
// tier is consulted and the fast tier refilled. Durable errors and undecodable
// entries are reported as absent.
func (s *Store) Get(ctx context.Context, messageID int64) (*TrackedMessage, bool) {
	if msg, ok := s.fast.Get(messageID); ok {
		return msg.clone(), true
	}

	mu := s.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	msg, ok := s.load(ctx, messageID)
	if !ok {
		return nil, false
	}
	return msg.clone(), true
}

// AppendEdit appends rec to the history of a message and refreshes its last
// check time. OldText is filled in from the current visible text. The stored
// record is returned.
func (s *Store) AppendEdit(ctx context.Context, messageID int64, rec EditRecord) (EditRecord, error) {
	mu := s.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	cur, ok := s.load(ctx, messageID)
	if !ok {
		return EditRecord{}, ErrNotTracked
	}

	now := s.now()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	rec.OldText = cur.CurrentText()

	next := cur.clone()
	next.EditHistory = append(next.EditHistory, rec)
	next.LastCheckedAt = now

	s.fast.Add(messageID, next)
	s.writeDurable(ctx, next)
	return rec, nil
}

// Sweep removes every message whose last check is older than maxAge and
// returns how many were removed. Only the fast tier is scanned; entries that
// live solely in the durable tier expire through its TTL. A durable delete
// failure is logged and does not stop the fast tier removal.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	removed := 0

	for _, id := range s.fast.Keys() {
		if ctx.Err() != nil {
			break
		}
		if s.sweepOne(ctx, id, cutoff) {
			removed++
		}
	}

	metrics.TrackedMessages.Set(float64(s.fast.Len()))
	metrics.SweepRemoved.Add(float64(removed))
	return removed
}

func (s *Store) sweepOne(ctx context.Context, messageID int64, cutoff time.Time) bool {
	mu := s.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	msg, ok := s.fast.Peek(messageID)
	if !ok || !msg.LastCheckedAt.Before(cutoff) {
		return false
	}
	s.fast.Remove(messageID)

	if s.durable != nil {
		dctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.durable.Delete(dctx, messageID); err != nil {
			metrics.DurableErrors.WithLabelValues("delete").Inc()
			s.logger.Warn("durable delete failed", "message_id", messageID, "err", err)
		}
	}
	return true
}

// Stats summarises the messages held in the fast tier.
func (s *Store) Stats() EditStats {
	var st EditStats
	for _, msg := range s.fast.Values() {
		st.TrackedMessages++
		st.TotalEdits += len(msg.EditHistory)
		for _, e := range msg.EditHistory {
			if e.IsSuspicious {
				st.SuspiciousEdits++
			}
		}
	}
	return st
}

// load returns the stored entry, rehydrating it from the durable tier when
// needed. The caller must hold the message lock.
func (s *Store) load(ctx context.Context, messageID int64) (*TrackedMessage, bool) {
	if msg, ok := s.fast.Get(messageID); ok {
		return msg, true
	}
	if s.durable == nil {
		return nil, false
	}

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.durable.Get(dctx, messageID)
	if err != nil {
		metrics.DurableErrors.WithLabelValues("get").Inc()
		s.logger.Warn("durable read failed", "message_id", messageID, "err", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	var msg TrackedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.DurableErrors.WithLabelValues("decode").Inc()
		s.logger.Warn("discarding undecodable durable entry", "message_id", messageID, "err", err)
		return nil, false
	}
	if msg.EditHistory == nil {
		msg.EditHistory = []EditRecord{}
	}
	msg.MessageID = messageID

	s.fast.Add(messageID, &msg)
	metrics.TrackedMessages.Set(float64(s.fast.Len()))
	return &msg, true
}

// writeDurable mirrors msg to the durable tier. Failures only degrade
// tracking to memory.
func (s *Store) writeDurable(ctx context.Context, msg *TrackedMessage) {
	if s.durable == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encode tracked message", "message_id", msg.MessageID, "err", err)
		return
	}

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.durable.Set(dctx, msg.MessageID, data, s.retention); err != nil {
		metrics.DurableErrors.WithLabelValues("set").Inc()
		s.logger.Warn("durable write failed, tracking from memory", "message_id", msg.MessageID, "err", err)
	}
}
