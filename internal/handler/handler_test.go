package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/comment-moderator/internal/anomaly"
	"github.com/whisper/comment-moderator/internal/comment"
	"github.com/whisper/comment-moderator/internal/moderation"
	"github.com/whisper/comment-moderator/internal/modlog"
	"github.com/whisper/comment-moderator/internal/scoring"
)

const (
	alice int64 = 1001
	bob   int64 = 1002
)

func commentEvent(messageID, userID int64, text string) moderation.CommentEvent {
	return moderation.CommentEvent{MessageID: messageID, ChatID: -100, PostID: 7, UserID: userID, Handle: "alice", Text: text}
}

func editEvent(messageID, userID int64, text string) moderation.EditEvent {
	return moderation.EditEvent{MessageID: messageID, ChatID: -100, UserID: userID, Handle: "alice", Text: text}
}

func TestHandleCommentPending(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["nice post"] = scoring.Result{SentimentScore: 0.5, SentimentLabel: "POSITIVE"}
	ctx := context.Background()

	d, err := f.handler.HandleComment(ctx, commentEvent(10, alice, "nice post"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomePending, d.Outcome)
	assert.False(t, d.DeleteMessage)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, moderation.EventComment, d.Event)
	require.NotZero(t, d.CommentID)
	assert.Equal(t, comment.ModerationButtons(d.CommentID), d.Buttons)
	assert.Contains(t, d.ModeratorNotice, "@alice")

	c := f.comments.get(d.CommentID)
	assert.Equal(t, comment.StatusPending, c.Status)
	assert.Equal(t, 0.5, c.SentimentScore)

	tracked, ok := f.tracker.Get(ctx, 10)
	require.True(t, ok)
	assert.Equal(t, "nice post", tracked.OriginalText)
	assert.Equal(t, alice, tracked.OwnerUserID)
}

func TestHandleCommentNegativeEscalates(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["you are awful"] = scoring.Result{SentimentScore: -0.9, Toxicity: 0.8}
	f.scores.results["fine"] = scoring.Result{SentimentScore: 0.1}
	ctx := context.Background()

	for i := int64(1); i <= 2; i++ {
		d, err := f.handler.HandleComment(ctx, commentEvent(i, alice, "you are awful"))
		require.NoError(t, err)
		assert.Equal(t, moderation.OutcomeWarn, d.Outcome)
		assert.True(t, d.DeleteMessage)
		assert.Equal(t, "negative sentiment, toxic content", d.Reason)
		assert.Equal(t, comment.StatusRejected, f.comments.get(d.CommentID).Status)
		_, tracked := f.tracker.Get(ctx, i)
		assert.False(t, tracked)
	}

	d, err := f.handler.HandleComment(ctx, commentEvent(3, alice, "you are awful"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeBan, d.Outcome)
	assert.Contains(t, d.UserNotice, "banned")

	rec := f.users.user(alice)
	assert.Equal(t, 3, rec.WarningCount)
	assert.True(t, rec.IsBanned)

	d, err = f.handler.HandleComment(ctx, commentEvent(4, alice, "fine"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeDeny, d.Outcome)
	assert.True(t, d.DeleteMessage)
	assert.Contains(t, d.UserNotice, "banned until")

	var autoRejects int
	for _, e := range f.comments.log {
		if e.Kind == modlog.KindAutoReject {
			autoRejects++
		}
	}
	assert.Equal(t, 3, autoRejects)
}

func TestHandleCommentStoreDownIsRetryable(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["you are awful"] = scoring.Result{SentimentScore: -0.9}
	f.users.setDown(true)

	_, err := f.handler.HandleComment(context.Background(), commentEvent(1, alice, "you are awful"))
	require.Error(t, err)
	assert.Empty(t, f.comments.comments)
}

func TestHandleCommentThrottled(t *testing.T) {
	f := newFixture(t, denyList{alice: true})

	d, err := f.handler.HandleComment(context.Background(), commentEvent(1, alice, "hello"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeDeny, d.Outcome)
	assert.Equal(t, "throttled", d.Reason)
	assert.True(t, d.DeleteMessage)
	assert.Empty(t, f.comments.comments)

	d, err = f.handler.HandleComment(context.Background(), commentEvent(2, bob, "hello"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomePending, d.Outcome)
}

func TestHandleCommentUnscorableIsHeld(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.fail["???"] = true
	ctx := context.Background()

	d, err := f.handler.HandleComment(ctx, commentEvent(1, alice, "???"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeHold, d.Outcome)
	assert.False(t, d.DeleteMessage)
	assert.NotEmpty(t, d.Buttons)
	assert.Equal(t, comment.StatusPending, f.comments.get(d.CommentID).Status)

	_, tracked := f.tracker.Get(ctx, 1)
	assert.False(t, tracked)
	assert.Zero(t, f.users.user(alice).WarningCount)
}

func TestHandleCommentEmptyText(t *testing.T) {
	f := newFixture(t, nil)
	d, err := f.handler.HandleComment(context.Background(), commentEvent(1, alice, "  "))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeAllow, d.Outcome)
	assert.Empty(t, f.comments.comments)
}

func TestHandleEditUntracked(t *testing.T) {
	f := newFixture(t, nil)
	d, err := f.handler.HandleEdit(context.Background(), editEvent(99, alice, "whatever"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeAllow, d.Outcome)
	assert.False(t, d.DeleteMessage)
}

func TestHandleEditBenign(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["nice post"] = scoring.Result{SentimentScore: 0.5}
	f.scores.results["nice post!"] = scoring.Result{SentimentScore: 0.45}
	ctx := context.Background()

	first, err := f.handler.HandleComment(ctx, commentEvent(10, alice, "nice post"))
	require.NoError(t, err)

	d, err := f.handler.HandleEdit(ctx, editEvent(10, alice, "nice post!"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeAllow, d.Outcome)
	assert.Empty(t, d.Signals)

	c := f.comments.get(first.CommentID)
	assert.Equal(t, "nice post!", c.Text)
	assert.Equal(t, 1, c.EditCount)
	require.Len(t, f.comments.edits, 1)
	assert.False(t, f.comments.edits[0].IsSuspicious)
}

func TestHandleEditSuspiciousRestrictsAfterLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["nice post"] = scoring.Result{SentimentScore: 0.5}
	f.scores.results["hmm ok"] = scoring.Result{SentimentScore: -0.1}
	ctx := context.Background()

	_, err := f.handler.HandleComment(ctx, commentEvent(10, alice, "nice post"))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		d, err := f.handler.HandleEdit(ctx, editEvent(10, alice, "hmm ok"))
		require.NoError(t, err)
		assert.Equal(t, moderation.OutcomeReject, d.Outcome)
		assert.True(t, d.DeleteMessage)
		assert.Equal(t, []string{anomaly.SignalSteepDrop}, d.Signals)
		assert.NotZero(t, d.CommentID)
		assert.Equal(t, i == 3, f.users.user(alice).EditRestricted)
		if i == 3 {
			assert.Contains(t, d.UserNotice, "restricted")
		}
	}
	assert.Equal(t, 3, f.users.user(alice).SuspiciousEditCount)

	d, err := f.handler.HandleEdit(ctx, editEvent(10, alice, "hmm ok"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeDeny, d.Outcome)
	assert.True(t, d.DeleteMessage)

	tracked, ok := f.tracker.Get(ctx, 10)
	require.True(t, ok)
	assert.Len(t, tracked.EditHistory, 3)
}

func TestHandleEditSpamLink(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["hello"] = scoring.Result{SentimentScore: 0.2}
	f.scores.results["join t.me/freecoins"] = scoring.Result{SentimentScore: 0.2}
	ctx := context.Background()

	_, err := f.handler.HandleComment(ctx, commentEvent(5, alice, "hello"))
	require.NoError(t, err)

	d, err := f.handler.HandleEdit(ctx, editEvent(5, alice, "join t.me/freecoins"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeReject, d.Outcome)
	assert.Contains(t, d.Signals, anomaly.SignalSpamPattern)
	assert.Contains(t, d.UserNotice, "Telegram")
}

func TestHandleEditStoreDownAppliesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["nice post"] = scoring.Result{SentimentScore: 0.5}
	ctx := context.Background()
	_, err := f.handler.HandleComment(ctx, commentEvent(10, alice, "nice post"))
	require.NoError(t, err)

	f.users.setDown(true)
	_, err = f.handler.HandleEdit(ctx, editEvent(10, alice, "hmm ok"))
	require.Error(t, err)
	assert.Empty(t, f.comments.edits)
}

func TestHandleEditUnscorableIsHeld(t *testing.T) {
	f := newFixture(t, nil)
	f.scores.results["nice post"] = scoring.Result{SentimentScore: 0.5}
	f.scores.fail["???"] = true
	ctx := context.Background()
	_, err := f.handler.HandleComment(ctx, commentEvent(10, alice, "nice post"))
	require.NoError(t, err)

	d, err := f.handler.HandleEdit(ctx, editEvent(10, alice, "???"))
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeHold, d.Outcome)

	tracked, _ := f.tracker.Get(ctx, 10)
	assert.Empty(t, tracked.EditHistory)
}

func pendingComment(t *testing.T, f *fixture) int64 {
	t.Helper()
	f.scores.results["nice post"] = scoring.Result{SentimentScore: 0.5}
	d, err := f.handler.HandleComment(context.Background(), commentEvent(10, alice, "nice post"))
	require.NoError(t, err)
	return d.CommentID
}

func TestHandleCommandApprove(t *testing.T) {
	f := newFixture(t, nil)
	id := pendingComment(t, f)
	ctx := context.Background()
	payload := comment.Approve{CommentID: id}.Payload()

	d, err := f.handler.HandleCommand(ctx, moderation.CommandEvent{ModeratorID: 42, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeApprove, d.Outcome)
	assert.Equal(t, alice, d.UserID)
	assert.Equal(t, comment.StatusApproved, f.comments.get(id).Status)

	d, err = f.handler.HandleCommand(ctx, moderation.CommandEvent{ModeratorID: 43, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeInvalid, d.Outcome)
	assert.Equal(t, "already moderated", d.Reason)
}

func TestHandleCommandRejectFlow(t *testing.T) {
	f := newFixture(t, nil)
	id := pendingComment(t, f)
	ctx := context.Background()

	d, err := f.handler.HandleCommand(ctx, moderation.CommandEvent{ModeratorID: 42, Payload: comment.Reject{CommentID: id}.Payload()})
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomePrompt, d.Outcome)
	assert.Len(t, d.Buttons, len(comment.ReasonCodes))
	assert.Equal(t, comment.StatusPending, f.comments.get(id).Status)

	d, err = f.handler.HandleCommand(ctx, moderation.CommandEvent{ModeratorID: 42, Payload: d.Buttons[1].Payload})
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeWarn, d.Outcome)
	assert.True(t, d.DeleteMessage)
	assert.EqualValues(t, 10, d.MessageID)
	assert.Equal(t, comment.ReasonSpam.Text(), d.Reason)

	c := f.comments.get(id)
	assert.Equal(t, comment.StatusRejected, c.Status)
	assert.Equal(t, "spam", c.RejectionReason)
	assert.Equal(t, 1, f.users.user(alice).WarningCount)
}

func TestHandleCommandInvalid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, payload := range []string{"", "delete:1", "approve:abc", "reason:rude:1"} {
		d, err := f.handler.HandleCommand(ctx, moderation.CommandEvent{ModeratorID: 42, Payload: payload})
		require.NoError(t, err, payload)
		assert.Equal(t, moderation.OutcomeInvalid, d.Outcome, payload)
	}

	d, err := f.handler.HandleCommand(ctx, moderation.CommandEvent{ModeratorID: 42, Payload: "approve:999"})
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeInvalid, d.Outcome)
	assert.Equal(t, "comment not found", d.Reason)
}
