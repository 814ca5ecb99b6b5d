// Package anomaly scores new messages and checks edits against the tracked
// baseline of the message.
//
// An edit is suspicious when any one of four signals fires:
//
//	negative         the new text is negative on its own
//	steep_drop       sentiment fell by at least the steep drop threshold from the original
//	spam_pattern     the new text matches a spam rule
//	suspicious_link  the new text links to a denylisted host
package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/whisper/comment-moderator/internal/metrics"
	"github.com/whisper/comment-moderator/internal/moderation"
	"github.com/whisper/comment-moderator/internal/scoring"
	"github.com/whisper/comment-moderator/internal/tracking"
)

// Signal names.
const (
	SignalNegative       = "negative"
	SignalSteepDrop      = "steep_drop"
	SignalSpamPattern    = "spam_pattern"
	SignalSuspiciousLink = "suspicious_link"
)

// Tracker is the subset of the message track store used by the detector.
type Tracker interface {
	Get(ctx context.Context, messageID int64) (*tracking.TrackedMessage, bool)
	AppendEdit(ctx context.Context, messageID int64, rec tracking.EditRecord) (tracking.EditRecord, error)
}

// Verdict is the outcome of checking one edit.
type Verdict struct {
	MessageID   int64
	Record      tracking.EditRecord
	OwnerUserID int64
	OwnerHandle string
	Score       scoring.Result
	Signals     []string
	Suspicious  bool

	SpamReason string // set when spam_pattern fired
	Link       string // set when suspicious_link fired
}

// Detector evaluates new messages and edits.
type Detector struct {
	provider  scoring.Provider
	tracker   Tracker
	matcher   *moderation.Matcher
	policy    scoring.Policy
	steepDrop float64
}

// NewDetector creates a Detector. steepDrop is the (negative) sentiment
// delta at or below which an edit is suspicious.
func NewDetector(provider scoring.Provider, tracker Tracker, matcher *moderation.Matcher, policy scoring.Policy, steepDrop float64) *Detector {
	return &Detector{
		provider:  provider,
		tracker:   tracker,
		matcher:   matcher,
		policy:    policy,
		steepDrop: steepDrop,
	}
}

// EvaluateNew scores a new message. Scoring failures are returned as errors
// wrapping scoring.ErrUnscorable, never as a neutral result.
func (d *Detector) EvaluateNew(ctx context.Context, text string) (scoring.Result, error) {
	res, err := d.provider.Score(ctx, text)
	if err != nil {
		metrics.ScoringFailures.Inc()
		return scoring.Result{}, unscorable(err)
	}
	return res, nil
}

// EvaluateEdit checks newText against the baseline of messageID and appends
// the resulting edit record. It returns nil and no error when the message is
// not tracked. When scoring fails nothing is appended.
func (d *Detector) EvaluateEdit(ctx context.Context, messageID int64, newText string) (*Verdict, error) {
	baseline, ok := d.tracker.Get(ctx, messageID)
	if !ok {
		return nil, nil
	}

	res, err := d.provider.Score(ctx, newText)
	if err != nil {
		metrics.ScoringFailures.Inc()
		return nil, unscorable(err)
	}

	v := &Verdict{
		MessageID:   messageID,
		OwnerUserID: baseline.OwnerUserID,
		OwnerHandle: baseline.OwnerHandle,
		Score:       res,
	}
	delta := res.SentimentScore - baseline.OriginalSentiment

	if d.policy.IsNegative(res) {
		v.Signals = append(v.Signals, SignalNegative)
	}
	if delta <= d.steepDrop {
		v.Signals = append(v.Signals, SignalSteepDrop)
	}
	if m, ok := d.matcher.MatchSpam(newText); ok {
		v.Signals = append(v.Signals, SignalSpamPattern)
		v.SpamReason = m.Reason
	}
	if link, ok := d.matcher.SuspiciousLink(newText); ok {
		v.Signals = append(v.Signals, SignalSuspiciousLink)
		v.Link = link
	}
	v.Suspicious = len(v.Signals) > 0

	snapshot, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("anomaly: encode snapshot: %w", err)
	}
	rec, err := d.tracker.AppendEdit(ctx, messageID, tracking.EditRecord{
		NewText:        newText,
		SentimentDelta: delta,
		IsSuspicious:   v.Suspicious,
		Snapshot:       snapshot,
	})
	if errors.Is(err, tracking.ErrNotTracked) {
		// Swept between the read and the append.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("anomaly: append edit: %w", err)
	}
	v.Record = rec

	for _, s := range v.Signals {
		metrics.EditSignals.WithLabelValues(s).Inc()
	}
	return v, nil
}

// Reason renders the verdict for user and moderator notices.
func (d *Detector) Reason(v *Verdict) string {
	switch {
	case v.SpamReason != "":
		return v.SpamReason
	case v.Link != "":
		return "suspicious link: " + v.Link
	case len(v.Signals) == 1 && v.Signals[0] == SignalSteepDrop:
		return fmt.Sprintf("sentiment dropped sharply (%.2f)", v.Record.SentimentDelta)
	default:
		return d.policy.Reason(v.Score)
	}
}

func unscorable(err error) error {
	if errors.Is(err, scoring.ErrUnscorable) {
		return err
	}
	return fmt.Errorf("%w: %w", scoring.ErrUnscorable, err)
}
