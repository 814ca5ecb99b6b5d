// Package scoring defines the text classification contract consumed by the
// moderation engine and ships two providers: an HTTP client for an external
// classifier service and a local lexicon scorer.
//
// A provider failure is never a neutral result. Callers receive an error
// wrapping ErrUnscorable and must hold the content for manual review.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/whisper/comment-moderator/internal/config"
)

// ErrUnscorable is returned when text could not be classified.
var ErrUnscorable = errors.New("scoring: text could not be scored")

// Result is the classification of a single text.
type Result struct {
	IsNegative     bool    `json:"is_negative"`
	Toxicity       float64 `json:"toxicity"`
	SentimentLabel string  `json:"sentiment_label"`
	SentimentScore float64 `json:"sentiment_score"`
	EmotionLabel   string  `json:"emotion_label"`
}

// Provider classifies text. Implementations must be safe for concurrent use.
type Provider interface {
	Score(ctx context.Context, text string) (Result, error)
}

// Policy decides negativity from raw scores. Text is negative when any one
// threshold is crossed.
type Policy struct {
	NegativeThreshold float64
	ToxicityThreshold float64
	NegativeEmotions  []string
}

// PolicyFrom extracts the negativity thresholds from the engine policy.
func PolicyFrom(p config.Policy) Policy {
	return Policy{
		NegativeThreshold: p.NegativeThreshold,
		ToxicityThreshold: p.ToxicityThreshold,
		NegativeEmotions:  p.NegativeEmotions,
	}
}

func (p Policy) negativeEmotion(label string) bool {
	return slices.Contains(p.NegativeEmotions, strings.ToLower(label))
}

// IsNegative applies the OR-of-thresholds rule.
func (p Policy) IsNegative(r Result) bool {
	return r.SentimentScore < p.NegativeThreshold ||
		r.Toxicity > p.ToxicityThreshold ||
		p.negativeEmotion(r.EmotionLabel)
}

// Reason renders why r was considered negative, for user and moderator notices.
func (p Policy) Reason(r Result) string {
	var reasons []string
	if r.SentimentScore < p.NegativeThreshold {
		reasons = append(reasons, "negative sentiment")
	}
	if r.Toxicity > p.ToxicityThreshold {
		reasons = append(reasons, "toxic content")
	}
	if p.negativeEmotion(r.EmotionLabel) {
		reasons = append(reasons, fmt.Sprintf("strong emotion: %s", strings.ToLower(r.EmotionLabel)))
	}
	if len(reasons) == 0 {
		return "unacceptable content"
	}
	return strings.Join(reasons, ", ")
}
