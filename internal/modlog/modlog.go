// Package modlog defines the moderation action log: every approval,
// rejection and escalation is written as one Entry in the same transaction
// as the change it describes.
package modlog

import (
	"encoding/json"
	"time"
)

// Kind is the type of a logged action.
type Kind string

const (
	KindApprove                Kind = "approve_comment"
	KindReject                 Kind = "reject_comment"
	KindAutoReject             Kind = "auto_reject_comment"
	KindWarning                Kind = "warning_issued"
	KindBan                    Kind = "user_banned"
	KindBlacklist              Kind = "user_blacklisted"
	KindSuspiciousEdit         Kind = "suspicious_edit"
	KindEditRestricted         Kind = "edit_restricted"
	KindEditRestrictionCleared Kind = "edit_restriction_cleared"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{
	KindApprove,
	KindReject,
	KindAutoReject,
	KindWarning,
	KindBan,
	KindBlacklist,
	KindSuspiciousEdit,
	KindEditRestricted,
	KindEditRestrictionCleared,
}

// SystemModerator is the moderator id recorded for automatic actions.
const SystemModerator int64 = 0

// Entry is one action log row.
type Entry struct {
	ID           int64           `json:"id,omitempty"`
	ModeratorID  int64           `json:"moderator_id"`
	Kind         Kind            `json:"kind"`
	TargetUserID int64           `json:"target_user_id,omitempty"`
	CommentID    int64           `json:"comment_id,omitempty"`
	Details      string          `json:"details,omitempty"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
