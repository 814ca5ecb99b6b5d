// Package handler turns transport events into moderation decisions. It owns
// the order in which the state machine, the edit detector and the comment
// workflow are called for each event; the transport only applies the
// resulting Decision.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/comment-moderator/internal/anomaly"
	"github.com/whisper/comment-moderator/internal/ban"
	"github.com/whisper/comment-moderator/internal/comment"
	"github.com/whisper/comment-moderator/internal/config"
	"github.com/whisper/comment-moderator/internal/moderation"
	"github.com/whisper/comment-moderator/internal/scoring"
	"github.com/whisper/comment-moderator/internal/tracking"
)

// Throttle limits how often a user may comment.
type Throttle interface {
	AllowComment(ctx context.Context, userID int64) bool
}

// Deps are the collaborators of a Handler. Throttle may be nil.
type Deps struct {
	Machine  *ban.Machine
	Detector *anomaly.Detector
	Tracker  *tracking.Store
	Comments *comment.Workflow
	Throttle Throttle
	Policy   scoring.Policy
	Messages config.Messages
	Logger   *slog.Logger
	Now      func() time.Time
}

// Handler processes comment, edit and command events.
type Handler struct {
	machine  *ban.Machine
	detector *anomaly.Detector
	tracker  *tracking.Store
	comments *comment.Workflow
	throttle Throttle
	policy   scoring.Policy
	messages config.Messages
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Handler.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{
		machine:  d.Machine,
		detector: d.Detector,
		tracker:  d.Tracker,
		comments: d.Comments,
		throttle: d.Throttle,
		policy:   d.Policy,
		messages: d.Messages,
		logger:   d.Logger.With("component", "handler"),
		now:      d.Now,
	}
}

func (h *Handler) decision(event string, outcome moderation.Outcome) moderation.Decision {
	return moderation.Decision{
		ID:      uuid.NewString(),
		Event:   event,
		Outcome: outcome,
		Ts:      h.now().Unix(),
	}
}

// HandleComment moderates a new comment. An error means nothing the
// transport must act on was committed and the event should be redelivered.
func (h *Handler) HandleComment(ctx context.Context, ev moderation.CommentEvent) (moderation.Decision, error) {
	d := h.decision(moderation.EventComment, moderation.OutcomeDeny)
	d.MessageID = ev.MessageID
	d.ChatID = ev.ChatID
	d.UserID = ev.UserID
	d.Handle = ev.Handle

	if strings.TrimSpace(ev.Text) == "" {
		d.Outcome = moderation.OutcomeAllow
		return d, nil
	}
	if h.throttle != nil && !h.throttle.AllowComment(ctx, ev.UserID) {
		d.DeleteMessage = true
		d.Reason = "throttled"
		d.UserNotice = h.messages.Throttled
		return d, nil
	}

	allowed, notice, err := h.machine.CheckRestrictions(ctx, ev.UserID, ev.Handle)
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: check restrictions: %w", err)
	}
	if !allowed {
		d.DeleteMessage = true
		d.Reason = "restricted"
		d.UserNotice = notice
		return d, nil
	}

	res, err := h.detector.EvaluateNew(ctx, ev.Text)
	if errors.Is(err, scoring.ErrUnscorable) {
		return h.holdComment(ctx, d, ev, err)
	}
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: evaluate comment: %w", err)
	}

	if h.policy.IsNegative(res) {
		return h.rejectNegative(ctx, d, ev, res)
	}

	c, err := h.comments.Submit(ctx, newComment(ev, res.SentimentScore))
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: submit comment: %w", err)
	}
	h.tracker.Track(ctx, ev.MessageID, ev.Text, res.SentimentScore, ev.UserID, ev.Handle)

	d.Outcome = moderation.OutcomePending
	d.CommentID = c.ID
	d.UserNotice = h.messages.CommentOnModeration
	d.ModeratorNotice = fmt.Sprintf("New comment from %s on post %d (sentiment %.2f):\n%s",
		displayName(ev.Handle, ev.UserID), ev.PostID, res.SentimentScore, ev.Text)
	d.Buttons = comment.ModerationButtons(c.ID)
	return d, nil
}

// holdComment stores an unscored comment as pending and asks moderators to
// review it by hand.
func (h *Handler) holdComment(ctx context.Context, d moderation.Decision, ev moderation.CommentEvent, cause error) (moderation.Decision, error) {
	h.logger.Warn("comment held for review", "message_id", ev.MessageID, "user_id", ev.UserID, "err", cause)

	c, err := h.comments.Submit(ctx, newComment(ev, 0))
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: submit held comment: %w", err)
	}

	d.Outcome = moderation.OutcomeHold
	d.CommentID = c.ID
	d.Reason = "unscorable"
	d.UserNotice = h.messages.HeldForReview
	d.ModeratorNotice = fmt.Sprintf("Comment from %s on post %d could not be scored, review manually:\n%s",
		displayName(ev.Handle, ev.UserID), ev.PostID, ev.Text)
	d.Buttons = comment.ModerationButtons(c.ID)
	return d, nil
}

// rejectNegative warns the author of a negative comment. The warning is
// written first; the comment row is bookkeeping and its failure only logs.
func (h *Handler) rejectNegative(ctx context.Context, d moderation.Decision, ev moderation.CommentEvent, res scoring.Result) (moderation.Decision, error) {
	reason := h.policy.Reason(res)

	count, banned, err := h.machine.RecordWarning(ctx, ev.UserID, ev.Handle, reason)
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: record warning: %w", err)
	}

	if c, err := h.comments.Submit(ctx, newComment(ev, res.SentimentScore)); err != nil {
		h.logger.Error("store auto-rejected comment", "message_id", ev.MessageID, "err", err)
	} else {
		d.CommentID = c.ID
		analysis, _ := json.Marshal(res)
		if _, err := h.comments.AutoReject(ctx, c.ID, reason, analysis); err != nil {
			h.logger.Error("auto-reject comment", "comment_id", c.ID, "err", err)
		}
	}

	d.Outcome = moderation.OutcomeWarn
	d.DeleteMessage = true
	d.Reason = reason
	d.UserNotice = h.machine.WarningNotice(reason, count)
	d.ModeratorNotice = fmt.Sprintf("Comment from %s rejected automatically (%s), warning %d",
		displayName(ev.Handle, ev.UserID), reason, count)
	if banned {
		d.Outcome = moderation.OutcomeBan
		d.UserNotice += "\n" + h.machine.BannedNotice()
		d.ModeratorNotice += ", user banned"
	}
	return d, nil
}

// HandleEdit checks an edit of a tracked comment.
func (h *Handler) HandleEdit(ctx context.Context, ev moderation.EditEvent) (moderation.Decision, error) {
	d := h.decision(moderation.EventEdit, moderation.OutcomeAllow)
	d.MessageID = ev.MessageID
	d.ChatID = ev.ChatID
	d.UserID = ev.UserID
	d.Handle = ev.Handle

	allowed, notice, err := h.machine.CheckEditRestrictions(ctx, ev.UserID, ev.Handle)
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: check edit restrictions: %w", err)
	}
	if !allowed {
		d.Outcome = moderation.OutcomeDeny
		d.DeleteMessage = true
		d.Reason = "edit restricted"
		d.UserNotice = notice
		return d, nil
	}

	v, err := h.detector.EvaluateEdit(ctx, ev.MessageID, ev.Text)
	if errors.Is(err, scoring.ErrUnscorable) {
		h.logger.Warn("edit held for review", "message_id", ev.MessageID, "user_id", ev.UserID, "err", err)
		d.Outcome = moderation.OutcomeHold
		d.Reason = "unscorable"
		d.UserNotice = h.messages.HeldForReview
		d.ModeratorNotice = fmt.Sprintf("Edit by %s could not be scored, review manually:\n%s",
			displayName(ev.Handle, ev.UserID), ev.Text)
		return d, nil
	}
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: evaluate edit: %w", err)
	}
	if v == nil {
		return d, nil
	}
	d.Signals = v.Signals

	if !v.Suspicious {
		h.recordEdit(ctx, ev, v)
		return d, nil
	}

	reason := h.detector.Reason(v)
	var commentID int64
	if c, err := h.comments.ByMessage(ctx, ev.MessageID); err == nil {
		commentID = c.ID
	}
	details := fmt.Sprintf("%s (delta %.2f)", reason, v.Record.SentimentDelta)
	restricted, err := h.machine.RecordSuspiciousEdit(ctx, ev.UserID, ev.Handle, commentID, details)
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: record suspicious edit: %w", err)
	}
	h.recordEdit(ctx, ev, v)

	d.Outcome = moderation.OutcomeReject
	d.CommentID = commentID
	d.DeleteMessage = true
	d.Reason = reason
	d.UserNotice = fmt.Sprintf(h.messages.SuspiciousEdit, reason)
	d.ModeratorNotice = fmt.Sprintf("Suspicious edit by %s: %s\nbefore: %s\nafter: %s\nsentiment change: %.2f",
		displayName(ev.Handle, ev.UserID), reason, v.Record.OldText, v.Record.NewText, v.Record.SentimentDelta)
	if restricted {
		d.UserNotice += "\n" + h.messages.EditRestricted
		d.ModeratorNotice += "\nediting is now restricted for this user"
	}
	return d, nil
}

func (h *Handler) recordEdit(ctx context.Context, ev moderation.EditEvent, v *anomaly.Verdict) {
	_, err := h.comments.RecordEdit(ctx, ev.MessageID, ev.Text, v.Record.SentimentDelta, v.Suspicious, v.Record.Snapshot)
	if err != nil && !errors.Is(err, comment.ErrNotFound) {
		h.logger.Error("record comment edit", "message_id", ev.MessageID, "err", err)
	}
}

// HandleCommand applies a moderator button press.
func (h *Handler) HandleCommand(ctx context.Context, ev moderation.CommandEvent) (moderation.Decision, error) {
	d := h.decision(moderation.EventCommand, moderation.OutcomeInvalid)

	cmd, err := comment.ParseCommand(ev.Payload)
	if err != nil {
		h.logger.Warn("unknown command", "moderator_id", ev.ModeratorID, "payload", ev.Payload)
		d.Reason = "unknown command"
		d.ModeratorNotice = "Unknown command."
		return d, nil
	}

	c, err := h.comments.Get(ctx, cmd.Target())
	if errors.Is(err, comment.ErrNotFound) {
		d.CommentID = cmd.Target()
		d.Reason = "comment not found"
		d.ModeratorNotice = "Comment not found."
		return d, nil
	}
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: load comment: %w", err)
	}
	d.CommentID = c.ID
	d.MessageID = c.MessageID
	d.ChatID = c.ChatID
	d.UserID = c.UserID
	if c.Status != comment.StatusPending {
		d.Reason = "already moderated"
		d.ModeratorNotice = fmt.Sprintf("Comment %d was already %s.", c.ID, c.Status)
		return d, nil
	}

	switch cmd := cmd.(type) {
	case comment.Approve:
		return h.approve(ctx, d, ev.ModeratorID, cmd)
	case comment.Reject:
		d.Outcome = moderation.OutcomePrompt
		d.ModeratorNotice = "Choose a rejection reason:"
		d.Buttons = comment.ReasonButtons(c.ID)
		return d, nil
	case comment.RejectWithReason:
		return h.reject(ctx, d, ev.ModeratorID, cmd)
	}
	return d, nil
}

func (h *Handler) approve(ctx context.Context, d moderation.Decision, moderatorID int64, cmd comment.Approve) (moderation.Decision, error) {
	_, err := h.comments.Approve(ctx, cmd.CommentID, moderatorID)
	if errors.Is(err, comment.ErrAlreadyModerated) {
		d.Reason = "already moderated"
		d.ModeratorNotice = fmt.Sprintf("Comment %d was already moderated.", cmd.CommentID)
		return d, nil
	}
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: approve comment: %w", err)
	}
	d.Outcome = moderation.OutcomeApprove
	d.UserNotice = h.messages.CommentApproved
	d.ModeratorNotice = fmt.Sprintf("Comment %d approved.", cmd.CommentID)
	return d, nil
}

// reject moves the comment to rejected before warning its author, so two
// moderators racing on the same comment warn the user once.
func (h *Handler) reject(ctx context.Context, d moderation.Decision, moderatorID int64, cmd comment.RejectWithReason) (moderation.Decision, error) {
	reason := cmd.Reason.Text()
	_, err := h.comments.Reject(ctx, cmd.CommentID, moderatorID, reason)
	if errors.Is(err, comment.ErrAlreadyModerated) {
		d.Reason = "already moderated"
		d.ModeratorNotice = fmt.Sprintf("Comment %d was already moderated.", cmd.CommentID)
		return d, nil
	}
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: reject comment: %w", err)
	}

	count, banned, err := h.machine.RecordWarning(ctx, d.UserID, "", reason)
	if err != nil {
		return moderation.Decision{}, fmt.Errorf("handler: warn after reject: %w", err)
	}

	d.Outcome = moderation.OutcomeWarn
	d.DeleteMessage = true
	d.Reason = reason
	d.UserNotice = fmt.Sprintf(h.messages.CommentRejected, reason) + "\n" + h.machine.WarningNotice(reason, count)
	d.ModeratorNotice = fmt.Sprintf("Comment %d rejected (%s), warning %d issued.", cmd.CommentID, reason, count)
	if banned {
		d.Outcome = moderation.OutcomeBan
		d.UserNotice += "\n" + h.machine.BannedNotice()
		d.ModeratorNotice += " User banned."
	}
	return d, nil
}

func newComment(ev moderation.CommentEvent, sentiment float64) *comment.Comment {
	return &comment.Comment{
		MessageID:      ev.MessageID,
		ChatID:         ev.ChatID,
		PostID:         ev.PostID,
		UserID:         ev.UserID,
		Text:           ev.Text,
		SentimentScore: sentiment,
	}
}

func displayName(handle string, userID int64) string {
	if handle != "" {
		return "@" + handle
	}
	return fmt.Sprintf("user %d", userID)
}
