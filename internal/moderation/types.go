package moderation

// CommentEvent is published by the chat transport when a new comment is
// posted in reply to a channel post.
type CommentEvent struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	PostID    int64  `json:"post_id"`
	UserID    int64  `json:"user_id"`
	Handle    string `json:"handle"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// EditEvent is published when the author edits a previously posted comment.
type EditEvent struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	Handle    string `json:"handle"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// CommandEvent carries a moderator button press. Payload is the opaque
// string previously attached to the button by a Decision.
type CommandEvent struct {
	ModeratorID int64  `json:"moderator_id"`
	Payload     string `json:"payload"`
	Ts          int64  `json:"ts"`
}

// Event names used in Decision.Event.
const (
	EventComment = "comment"
	EventEdit    = "edit"
	EventCommand = "command"
)

// Outcome is the verdict the engine reached for one event.
type Outcome string

const (
	OutcomeAllow   Outcome = "allow"   // nothing to do
	OutcomePending Outcome = "pending" // queued for a moderator
	OutcomeHold    Outcome = "hold"    // could not be scored, manual review
	OutcomeReject  Outcome = "reject"  // content removed, no escalation
	OutcomeWarn    Outcome = "warn"    // content removed and a warning recorded
	OutcomeBan     Outcome = "ban"     // content removed and the author banned
	OutcomeDeny    Outcome = "deny"    // author is restricted
	OutcomeApprove Outcome = "approve" // moderator approved a comment
	OutcomePrompt  Outcome = "prompt"  // moderator must choose a reason
	OutcomeInvalid Outcome = "invalid" // unknown or stale command
	OutcomeRetry   Outcome = "retry"   // nothing was committed, redeliver the event
)

// Button is one moderator action offered alongside a notice.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// Decision is the engine's instruction to the chat transport. The engine
// never performs transport I/O itself.
type Decision struct {
	ID              string   `json:"id"`
	Event           string   `json:"event"`
	Outcome         Outcome  `json:"outcome"`
	MessageID       int64    `json:"message_id,omitempty"`
	ChatID          int64    `json:"chat_id,omitempty"`
	UserID          int64    `json:"user_id,omitempty"`
	Handle          string   `json:"handle,omitempty"`
	CommentID       int64    `json:"comment_id,omitempty"`
	DeleteMessage   bool     `json:"delete_message"`
	UserNotice      string   `json:"user_notice,omitempty"`
	ModeratorNotice string   `json:"moderator_notice,omitempty"`
	Buttons         []Button `json:"buttons,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Signals         []string `json:"signals,omitempty"`
	Ts              int64    `json:"ts"`
}
