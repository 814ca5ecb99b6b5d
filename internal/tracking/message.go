// Package tracking implements the message track store: a bounded in-memory
// fast tier in front of a durable keyed store. It remembers the original text
// and sentiment of every tracked message together with its edit history.
//
// Durable writes are best effort. A durable failure is logged and counted and
// tracking continues from memory.
package tracking

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotTracked is returned by AppendEdit when neither tier holds the message.
var ErrNotTracked = errors.New("tracking: message not tracked")

// EditRecord is one edit of a tracked message. It is never modified after it
// is appended.
type EditRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	OldText        string          `json:"old_text"`
	NewText        string          `json:"new_text"`
	SentimentDelta float64         `json:"sentiment_delta"` // new score minus the original baseline
	IsSuspicious   bool            `json:"is_suspicious"`
	Snapshot       json.RawMessage `json:"scoring_snapshot,omitempty"`
}

// TrackedMessage is the baseline of a message plus every edit seen since.
type TrackedMessage struct {
	MessageID         int64        `json:"message_id"`
	OriginalText      string       `json:"original_text"`
	OriginalSentiment float64      `json:"original_sentiment"`
	CreatedAt         time.Time    `json:"created_at"`
	LastCheckedAt     time.Time    `json:"last_checked_at"`
	EditHistory       []EditRecord `json:"edit_history"`
	OwnerUserID       int64        `json:"owner_user_id"`
	OwnerHandle       string       `json:"owner_handle"`
}

// CurrentText returns the last visible text of the message.
func (m *TrackedMessage) CurrentText() string {
	if n := len(m.EditHistory); n > 0 {
		return m.EditHistory[n-1].NewText
	}
	return m.OriginalText
}

func (m *TrackedMessage) clone() *TrackedMessage {
	c := *m
	c.EditHistory = make([]EditRecord, len(m.EditHistory))
	copy(c.EditHistory, m.EditHistory)
	return &c
}

// EditStats summarises the edit history of the messages held in memory.
type EditStats struct {
	TrackedMessages int `json:"tracked_messages"`
	TotalEdits      int `json:"total_edits"`
	SuspiciousEdits int `json:"suspicious_edits"`
}
