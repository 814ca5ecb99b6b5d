// Package comment owns the lifecycle of a comment awaiting moderation and
// the moderator commands that drive it. A comment moves from pending to
// approved or rejected exactly once.
package comment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/whisper/comment-moderator/internal/modlog"
)

var (
	// ErrNotFound is returned when no comment matches.
	ErrNotFound = errors.New("comment: not found")

	// ErrAlreadyModerated is returned when a comment is no longer pending.
	ErrAlreadyModerated = errors.New("comment: already moderated")
)

// Status is the moderation state of a comment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Comment is a reply to a channel post.
type Comment struct {
	ID              int64      `json:"id"`
	MessageID       int64      `json:"message_id"`
	ChatID          int64      `json:"chat_id"`
	PostID          int64      `json:"post_id"`
	UserID          int64      `json:"user_id"`
	Text            string     `json:"text"`
	SentimentScore  float64    `json:"sentiment_score"`
	Status          Status     `json:"status"`
	ModeratedBy     *int64     `json:"moderated_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ModeratedAt     *time.Time `json:"moderated_at,omitempty"`
	IsEdited        bool       `json:"is_edited"`
	EditCount       int        `json:"edit_count"`
	LastEditAt      *time.Time `json:"last_edit_at,omitempty"`
}

// Edit is one stored edit of a comment.
type Edit struct {
	CommentID      int64           `json:"comment_id"`
	UserID         int64           `json:"user_id"`
	OldText        string          `json:"old_text"`
	NewText        string          `json:"new_text"`
	SentimentDelta float64         `json:"sentiment_delta"`
	IsSuspicious   bool            `json:"is_suspicious"`
	Analysis       json.RawMessage `json:"analysis,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Moderation is a status transition request.
type Moderation struct {
	Status      Status
	ModeratorID *int64
	Reason      string
	Log         modlog.Entry
}

// Repository persists comments.
type Repository interface {
	CreateComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id int64) (*Comment, error)
	GetCommentByMessage(ctx context.Context, messageID int64) (*Comment, error)

	// ModerateComment applies m to a pending comment and writes m.Log in the
	// same transaction. It returns ErrAlreadyModerated when the comment is
	// not pending and ErrNotFound when it does not exist.
	ModerateComment(ctx context.Context, id int64, m Moderation) (*Comment, error)

	// RecordCommentEdit stores e, bumps the edit counters and replaces the
	// comment text. e.OldText is taken from the stored text.
	RecordCommentEdit(ctx context.Context, id int64, e Edit) (*Comment, error)
}

// Workflow applies the comment moderation rules.
type Workflow struct {
	repo Repository
}

// NewWorkflow creates a Workflow over repo.
func NewWorkflow(repo Repository) *Workflow {
	return &Workflow{repo: repo}
}

// Submit stores a new pending comment.
func (w *Workflow) Submit(ctx context.Context, c *Comment) (*Comment, error) {
	if strings.TrimSpace(c.Text) == "" {
		return nil, errors.New("comment: empty text")
	}
	c.Status = StatusPending
	c.ModeratedBy = nil
	c.ModeratedAt = nil
	c.RejectionReason = ""
	if err := w.repo.CreateComment(ctx, c); err != nil {
		return nil, fmt.Errorf("comment: submit: %w", err)
	}
	return c, nil
}

// Get returns a comment by id.
func (w *Workflow) Get(ctx context.Context, id int64) (*Comment, error) {
	return w.repo.GetComment(ctx, id)
}

// ByMessage returns the comment posted as messageID.
func (w *Workflow) ByMessage(ctx context.Context, messageID int64) (*Comment, error) {
	return w.repo.GetCommentByMessage(ctx, messageID)
}

// Approve publishes a pending comment.
func (w *Workflow) Approve(ctx context.Context, id, moderatorID int64) (*Comment, error) {
	return w.moderate(ctx, id, Moderation{
		Status:      StatusApproved,
		ModeratorID: &moderatorID,
		Log: modlog.Entry{
			ModeratorID: moderatorID,
			Kind:        modlog.KindApprove,
			CommentID:   id,
		},
	})
}

// Reject rejects a pending comment on behalf of a moderator.
func (w *Workflow) Reject(ctx context.Context, id, moderatorID int64, reason string) (*Comment, error) {
	return w.moderate(ctx, id, Moderation{
		Status:      StatusRejected,
		ModeratorID: &moderatorID,
		Reason:      reason,
		Log: modlog.Entry{
			ModeratorID: moderatorID,
			Kind:        modlog.KindReject,
			CommentID:   id,
			Details:     reason,
		},
	})
}

// AutoReject rejects a pending comment that failed automatic scoring.
// analysis is kept on the log entry for later review.
func (w *Workflow) AutoReject(ctx context.Context, id int64, reason string, analysis json.RawMessage) (*Comment, error) {
	return w.moderate(ctx, id, Moderation{
		Status: StatusRejected,
		Reason: reason,
		Log: modlog.Entry{
			ModeratorID: modlog.SystemModerator,
			Kind:        modlog.KindAutoReject,
			CommentID:   id,
			Details:     reason,
			Analysis:    analysis,
		},
	})
}

func (w *Workflow) moderate(ctx context.Context, id int64, m Moderation) (*Comment, error) {
	c, err := w.repo.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, ErrAlreadyModerated
	}
	m.Log.TargetUserID = c.UserID
	return w.repo.ModerateComment(ctx, id, m)
}

// RecordEdit stores an edit of the comment posted as messageID.
func (w *Workflow) RecordEdit(ctx context.Context, messageID int64, newText string, delta float64, suspicious bool, analysis json.RawMessage) (*Comment, error) {
	c, err := w.repo.GetCommentByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return w.repo.RecordCommentEdit(ctx, c.ID, Edit{
		CommentID:      c.ID,
		UserID:         c.UserID,
		NewText:        newText,
		SentimentDelta: delta,
		IsSuspicious:   suspicious,
		Analysis:       analysis,
	})
}
