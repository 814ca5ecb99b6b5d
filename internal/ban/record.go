// Package ban implements the per-user moderation state machine: warnings,
// temporary bans, the blacklist and edit restrictions.
//
//	Clear -> Warned(n) -> Banned -> (expiry) -> Clear | Warned(n)
//
// Blacklisted and EditRestricted are orthogonal and have no automatic exit.
// A ban is only ever created by RecordWarning and expires lazily: the first
// operation that reads the record after the expiry clears it.
package ban

import (
	"context"
	"errors"
	"time"

	"github.com/whisper/comment-moderator/internal/modlog"
)

var (
	// ErrStoreUnavailable is returned when a change could not be committed.
	// Nothing was changed and the caller may retry.
	ErrStoreUnavailable = errors.New("ban: moderation store unavailable")

	// ErrInvariantViolation is returned in strict mode when a stored record
	// is inconsistent, such as a ban without an expiry.
	ErrInvariantViolation = errors.New("ban: record invariant violated")

	// ErrUserNotFound is returned by Get for a user never seen before.
	ErrUserNotFound = errors.New("ban: user not found")
)

// WarningTTL is how long an individual warning stays on the user's record
// for audit purposes. The warning counter itself never decreases.
const WarningTTL = 30 * 24 * time.Hour

// Record is the moderation state of one platform user.
type Record struct {
	UserID              int64      `json:"user_id"`
	Handle              string     `json:"handle"`
	WarningCount        int        `json:"warning_count"`
	SuspiciousEditCount int        `json:"suspicious_edit_count"`
	IsBanned            bool       `json:"is_banned"`
	BanExpiresAt        *time.Time `json:"ban_expires_at,omitempty"`
	IsBlacklisted       bool       `json:"is_blacklisted"`
	EditRestricted      bool       `json:"edit_restricted"`
	LastActivityAt      time.Time  `json:"last_activity_at"`
	CreatedAt           time.Time  `json:"created_at"`
}

// BanActive reports whether a ban is in force at now.
func (r *Record) BanActive(now time.Time) bool {
	return r.IsBanned && r.BanExpiresAt != nil && now.Before(*r.BanExpiresAt)
}

// Warning is one issued warning.
type Warning struct {
	Reason    string
	ExpiresAt time.Time
}

// Change is everything a state transition persists next to the record.
type Change struct {
	Warning *Warning
	Log     []modlog.Entry
}

// Repository persists user records. UpdateUser must load the record for
// userID under a row lock (creating it when missing), call fn, and commit the
// modified record together with the returned Change in one transaction. When
// fn returns an error nothing is written and the error is returned wrapped.
type Repository interface {
	UpdateUser(ctx context.Context, userID int64, handle string, fn func(r *Record) (Change, error)) (*Record, error)

	// GetUser returns nil and no error when the user has never been seen.
	GetUser(ctx context.Context, userID int64) (*Record, error)
}
