package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/comment-moderator/internal/moderation"
)

type echoProcessor struct{}

func (echoProcessor) SubmitComment(_ context.Context, ev moderation.CommentEvent, reply func(moderation.Decision)) {
	reply(moderation.Decision{ID: "c", Event: moderation.EventComment, Outcome: moderation.OutcomePending, MessageID: ev.MessageID})
}

func (echoProcessor) SubmitEdit(_ context.Context, ev moderation.EditEvent, reply func(moderation.Decision)) {
	reply(moderation.Decision{ID: "e", Event: moderation.EventEdit, Outcome: moderation.OutcomeAllow, MessageID: ev.MessageID})
}

func (echoProcessor) SubmitCommand(_ context.Context, ev moderation.CommandEvent, reply func(moderation.Decision)) {
	reply(moderation.Decision{ID: "m", Event: moderation.EventCommand, Outcome: moderation.OutcomeInvalid, Reason: ev.Payload})
}

func setupNATS(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestServeEventsRepliesAndPublishes(t *testing.T) {
	c := setupNATS(t)
	require.NoError(t, c.ServeEvents(context.Background(), echoProcessor{}))

	published := make(chan *nats.Msg, 4)
	sub, err := c.conn.ChanSubscribe(SubjectDecision+".>", published)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	data, err := json.Marshal(moderation.CommentEvent{MessageID: 77, UserID: 1, Text: "hi"})
	require.NoError(t, err)
	resp, err := c.conn.Request(SubjectCommentNew, data, time.Second)
	require.NoError(t, err)

	var d moderation.Decision
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, moderation.OutcomePending, d.Outcome)
	assert.EqualValues(t, 77, d.MessageID)

	select {
	case msg := <-published:
		assert.Equal(t, SubjectDecision+"."+moderation.EventComment, msg.Subject)
	case <-time.After(time.Second):
		t.Fatal("decision was not published")
	}

	data, _ = json.Marshal(moderation.CommandEvent{ModeratorID: 5, Payload: "approve:1"})
	resp, err = c.conn.Request(SubjectCommand, data, time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, "approve:1", d.Reason)
}

func TestServeEventsDropsGarbage(t *testing.T) {
	c := setupNATS(t)
	require.NoError(t, c.ServeEvents(context.Background(), echoProcessor{}))

	_, err := c.conn.Request(SubjectCommentEdit, []byte("{not json"), 200*time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}
