package ban

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/whisper/comment-moderator/internal/config"
	"github.com/whisper/comment-moderator/internal/metrics"
	"github.com/whisper/comment-moderator/internal/modlog"
)

// Options configures a Machine.
type Options struct {
	Policy   config.Policy
	Messages config.Messages
	Retries  uint // attempts per operation, at least 1
	Strict   bool // fail on invariant violations instead of repairing them
	Logger   *slog.Logger
	Now      func() time.Time

	// Backoff builds the retry schedule. Defaults to exponential backoff.
	Backoff func() backoff.BackOff
}

// Machine applies escalation rules to user records. Operations on the same
// user are serialized in-process; the repository row lock serializes them
// across processes.
type Machine struct {
	repo     Repository
	policy   config.Policy
	messages config.Messages
	retries  uint
	strict   bool
	logger   *slog.Logger
	now      func() time.Time
	backoff  func() backoff.BackOff

	locks *xsync.MapOf[int64, *sync.Mutex]
}

// NewMachine creates a state machine over repo.
func NewMachine(repo Repository, opts Options) *Machine {
	if opts.Retries == 0 {
		opts.Retries = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	return &Machine{
		repo:     repo,
		policy:   opts.Policy,
		messages: opts.Messages,
		retries:  opts.Retries,
		strict:   opts.Strict,
		logger:   opts.Logger.With("component", "ban"),
		now:      opts.Now,
		backoff:  opts.Backoff,
		locks:    xsync.NewMapOf[int64, *sync.Mutex](),
	}
}

func (m *Machine) lockFor(userID int64) *sync.Mutex {
	mu, _ := m.locks.LoadOrCompute(userID, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return mu
}

// update runs fn against the user's record inside one repository
// transaction. Expired bans are cleared and broken invariants handled before
// fn sees the record. Store failures are retried with backoff; errors from fn
// are not.
func (m *Machine) update(ctx context.Context, op string, userID int64, handle string, fn func(r *Record, now time.Time) (Change, error)) (*Record, error) {
	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	var expired bool
	rec, err := backoff.Retry(ctx, func() (*Record, error) {
		expired = false
		r, err := m.repo.UpdateUser(ctx, userID, handle, func(r *Record) (Change, error) {
			now := m.now()
			if err := m.heal(r); err != nil {
				return Change{}, backoff.Permanent(err)
			}
			if r.IsBanned && !r.BanActive(now) {
				r.IsBanned = false
				r.BanExpiresAt = nil
				expired = true
			}
			change, err := fn(r, now)
			if err != nil {
				return Change{}, backoff.Permanent(err)
			}
			return change, nil
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}, backoff.WithBackOff(m.backoff()), backoff.WithMaxTries(m.retries))
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		m.logger.Error("moderation write failed", "op", op, "user_id", userID, "err", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}

	if expired {
		metrics.Escalations.WithLabelValues("ban_expired").Inc()
		m.logger.Info("ban expired", "user_id", userID)
	}
	return rec, nil
}

// heal repairs records that break the data model. In strict mode it returns
// ErrInvariantViolation instead.
func (m *Machine) heal(r *Record) error {
	var problems []string
	if r.IsBanned && r.BanExpiresAt == nil {
		problems = append(problems, "ban without expiry")
	}
	if !r.IsBanned && r.BanExpiresAt != nil {
		problems = append(problems, "expiry without ban")
	}
	if r.WarningCount < 0 || r.SuspiciousEditCount < 0 {
		problems = append(problems, "negative counter")
	}
	if len(problems) == 0 {
		return nil
	}
	if m.strict {
		return fmt.Errorf("%w: user %d: %v", ErrInvariantViolation, r.UserID, problems)
	}

	m.logger.Error("repairing inconsistent moderation record", "user_id", r.UserID, "problems", problems)
	if r.IsBanned != (r.BanExpiresAt != nil) {
		r.IsBanned = false
		r.BanExpiresAt = nil
	}
	r.WarningCount = max(r.WarningCount, 0)
	r.SuspiciousEditCount = max(r.SuspiciousEditCount, 0)
	return nil
}

// RecordWarning adds a warning to the user. When the new count reaches the
// warning limit and no ban is in force, the user is banned in the same
// transaction and shouldBan is true.
func (m *Machine) RecordWarning(ctx context.Context, userID int64, handle, reason string) (count int, shouldBan bool, err error) {
	rec, err := m.update(ctx, "record warning", userID, handle, func(r *Record, now time.Time) (Change, error) {
		shouldBan = false
		r.WarningCount++
		r.LastActivityAt = now
		change := Change{
			Warning: &Warning{Reason: reason, ExpiresAt: now.Add(WarningTTL)},
			Log: []modlog.Entry{{
				ModeratorID:  modlog.SystemModerator,
				Kind:         modlog.KindWarning,
				TargetUserID: userID,
				Details:      reason,
			}},
		}
		if r.WarningCount >= m.policy.MaxWarnings && !r.BanActive(now) {
			until := now.Add(m.policy.BanDuration)
			r.IsBanned = true
			r.BanExpiresAt = &until
			shouldBan = true
			change.Log = append(change.Log, modlog.Entry{
				ModeratorID:  modlog.SystemModerator,
				Kind:         modlog.KindBan,
				TargetUserID: userID,
				Details:      fmt.Sprintf("%s; banned until %s", reason, until.UTC().Format(time.RFC3339)),
			})
		}
		return change, nil
	})
	if err != nil {
		return 0, false, err
	}

	metrics.Escalations.WithLabelValues("warning").Inc()
	if shouldBan {
		metrics.Escalations.WithLabelValues("ban").Inc()
		m.logger.Info("user banned", "user_id", userID, "warnings", rec.WarningCount, "until", rec.BanExpiresAt)
	}
	return rec.WarningCount, shouldBan, nil
}

// CheckRestrictions reports whether the user may post. It refreshes the
// user's last activity and clears an expired ban.
func (m *Machine) CheckRestrictions(ctx context.Context, userID int64, handle string) (bool, string, error) {
	rec, err := m.update(ctx, "check restrictions", userID, handle, func(r *Record, now time.Time) (Change, error) {
		r.LastActivityAt = now
		return Change{}, nil
	})
	if err != nil {
		return false, "", err
	}

	switch {
	case rec.IsBlacklisted:
		return false, m.messages.UserBlacklisted, nil
	case rec.IsBanned:
		return false, m.bannedMessage(rec), nil
	}
	return true, "", nil
}

// CheckEditRestrictions reports whether the user may edit messages.
func (m *Machine) CheckEditRestrictions(ctx context.Context, userID int64, handle string) (bool, string, error) {
	rec, err := m.update(ctx, "check edit restrictions", userID, handle, func(r *Record, now time.Time) (Change, error) {
		r.LastActivityAt = now
		return Change{}, nil
	})
	if err != nil {
		return false, "", err
	}

	switch {
	case rec.EditRestricted:
		return false, m.messages.EditRestricted, nil
	case rec.IsBanned:
		return false, m.bannedMessage(rec), nil
	}
	return true, "", nil
}

// RecordSuspiciousEdit counts a suspicious edit and restricts editing once
// the limit is reached. restricted is true only on the call that set the
// restriction.
func (m *Machine) RecordSuspiciousEdit(ctx context.Context, userID int64, handle string, commentID int64, details string) (restricted bool, err error) {
	_, err = m.update(ctx, "record suspicious edit", userID, handle, func(r *Record, now time.Time) (Change, error) {
		restricted = false
		r.SuspiciousEditCount++
		r.LastActivityAt = now
		change := Change{Log: []modlog.Entry{{
			ModeratorID:  modlog.SystemModerator,
			Kind:         modlog.KindSuspiciousEdit,
			TargetUserID: userID,
			CommentID:    commentID,
			Details:      details,
		}}}
		if r.SuspiciousEditCount >= m.policy.SuspiciousEditLimit && !r.EditRestricted {
			r.EditRestricted = true
			restricted = true
			change.Log = append(change.Log, modlog.Entry{
				ModeratorID:  modlog.SystemModerator,
				Kind:         modlog.KindEditRestricted,
				TargetUserID: userID,
				Details:      fmt.Sprintf("%d suspicious edits", r.SuspiciousEditCount),
			})
		}
		return change, nil
	})
	if err != nil {
		return false, err
	}
	if restricted {
		metrics.Escalations.WithLabelValues("edit_restricted").Inc()
		m.logger.Info("edits restricted", "user_id", userID)
	}
	return restricted, nil
}

// Blacklist permanently blocks the user. It is only reached through an
// explicit moderator action.
func (m *Machine) Blacklist(ctx context.Context, userID, moderatorID int64, reason string) error {
	var changed bool
	_, err := m.update(ctx, "blacklist", userID, "", func(r *Record, now time.Time) (Change, error) {
		changed = !r.IsBlacklisted
		if !changed {
			return Change{}, nil
		}
		r.IsBlacklisted = true
		return Change{Log: []modlog.Entry{{
			ModeratorID:  moderatorID,
			Kind:         modlog.KindBlacklist,
			TargetUserID: userID,
			Details:      reason,
		}}}, nil
	})
	if err != nil {
		return err
	}
	if changed {
		metrics.Escalations.WithLabelValues("blacklist").Inc()
		m.logger.Info("user blacklisted", "user_id", userID, "moderator_id", moderatorID)
	}
	return nil
}

// ClearEditRestriction lifts an edit restriction and resets the suspicious
// edit counter. It is the only way a restriction is ever removed.
func (m *Machine) ClearEditRestriction(ctx context.Context, userID, moderatorID int64) error {
	var changed bool
	_, err := m.update(ctx, "clear edit restriction", userID, "", func(r *Record, now time.Time) (Change, error) {
		changed = r.EditRestricted || r.SuspiciousEditCount > 0
		if !changed {
			return Change{}, nil
		}
		r.EditRestricted = false
		r.SuspiciousEditCount = 0
		return Change{Log: []modlog.Entry{{
			ModeratorID:  moderatorID,
			Kind:         modlog.KindEditRestrictionCleared,
			TargetUserID: userID,
		}}}, nil
	})
	if err != nil {
		return err
	}
	if changed {
		m.logger.Info("edit restriction cleared", "user_id", userID, "moderator_id", moderatorID)
	}
	return nil
}

// Get returns the user's current record. An expired ban is cleared and
// persisted before the record is returned.
func (m *Machine) Get(ctx context.Context, userID int64) (*Record, error) {
	rec, err := m.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %w", ErrStoreUnavailable, err)
	}
	if rec == nil {
		return nil, ErrUserNotFound
	}
	now := m.now()
	stale := rec.IsBanned != (rec.BanExpiresAt != nil) || (rec.IsBanned && !rec.BanActive(now))
	if !stale {
		return rec, nil
	}
	return m.update(ctx, "get", userID, "", func(r *Record, now time.Time) (Change, error) {
		return Change{}, nil
	})
}

func (m *Machine) bannedMessage(r *Record) string {
	if r.BanExpiresAt == nil {
		return fmt.Sprintf(m.messages.UserBanned, int(m.policy.BanDuration.Hours()))
	}
	return fmt.Sprintf(m.messages.UserBannedUntil, r.BanExpiresAt.UTC().Format("2006-01-02 15:04 MST"))
}

// BannedNotice renders the notice sent to a user who was just banned.
func (m *Machine) BannedNotice() string {
	return fmt.Sprintf(m.messages.UserBanned, int(m.policy.BanDuration.Hours()))
}

// WarningNotice renders the notice sent with a warning.
func (m *Machine) WarningNotice(reason string, count int) string {
	return fmt.Sprintf(m.messages.UserWarning, reason, count, m.policy.MaxWarnings)
}
