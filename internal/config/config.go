// Package config holds the policy values and runtime settings consumed by the
// moderation engine. Values are plain data; the CLI is responsible for loading
// them from flags and the environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Policy is the set of thresholds that drive escalation and edit checks.
type Policy struct {
	MaxWarnings         int           // warnings that trigger a ban
	BanDuration         time.Duration // length of a temporary ban
	SuspiciousEditLimit int           // suspicious edits before edits are restricted
	RetentionWindow     time.Duration // how long tracked messages live after their last check
	SteepDropThreshold  float64       // sentiment delta at or below which an edit is suspicious
	NegativeThreshold   float64       // sentiment score below which text is negative
	ToxicityThreshold   float64       // toxicity above which text is negative
	NegativeEmotions    []string      // emotion labels that make text negative
}

// Messages are the user-facing notice templates. Templates use fmt verbs.
type Messages struct {
	CommentOnModeration string // no args
	CommentApproved     string // no args
	CommentRejected     string // reason
	UserWarning         string // reason, count, max
	UserBanned          string // hours
	UserBannedUntil     string // expiry time
	UserBlacklisted     string // no args
	SuspiciousEdit      string // reason
	EditRestricted      string // no args
	Throttled           string // no args
	HeldForReview       string // no args
}

// Config is the complete runtime configuration of the moderator service.
type Config struct {
	Policy   Policy
	Messages Messages

	SweepInterval    time.Duration // period of the retention sweep
	ScoringTimeout   time.Duration // per-attempt bound on ScoreProvider calls
	DurableTimeout   time.Duration // per-call bound on the durable tiers
	FastTierCapacity int           // max tracked messages held in memory
	Workers          int           // event worker shards
	WriteRetries     uint          // attempts for state-machine writes
	CommentsPerMin   int           // per-user comment throttle, 0 disables

	// Strict makes invariant violations fail the operation instead of being
	// repaired in place. Intended for non-production deployments.
	Strict bool
}

// DefaultPolicy returns the documented default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MaxWarnings:         3,
		BanDuration:         24 * time.Hour,
		SuspiciousEditLimit: 3,
		RetentionWindow:     7 * 24 * time.Hour,
		SteepDropThreshold:  -0.5,
		NegativeThreshold:   -0.3,
		ToxicityThreshold:   0.7,
		NegativeEmotions:    []string{"anger", "disgust"},
	}
}

// DefaultMessages returns the stock English notice texts.
func DefaultMessages() Messages {
	return Messages{
		CommentOnModeration: "Your comment has been sent for moderation. It will be published after review.",
		CommentApproved:     "Your comment was approved and published.",
		CommentRejected:     "Your comment was rejected by a moderator. Reason: %s",
		UserWarning:         "Warning: %s. You have %d of %d warnings.",
		UserBanned:          "You have been banned for %d hours for breaking the rules.",
		UserBannedUntil:     "You are banned until %s.",
		UserBlacklisted:     "You are blacklisted and cannot leave comments.",
		SuspiciousEdit:      "Your comment edit was rejected as suspicious. Reason: %s",
		EditRestricted:      "Editing comments is restricted for your account.",
		Throttled:           "You are commenting too fast. Please wait a moment.",
		HeldForReview:       "Your message is being held for manual review.",
	}
}

// Default returns a Config populated with production defaults.
func Default() Config {
	return Config{
		Policy:           DefaultPolicy(),
		Messages:         DefaultMessages(),
		SweepInterval:    24 * time.Hour,
		ScoringTimeout:   5 * time.Second,
		DurableTimeout:   2 * time.Second,
		FastTierCapacity: 100_000,
		Workers:          4,
		WriteRetries:     3,
		CommentsPerMin:   5,
	}
}

// Validate reports every setting that cannot be used.
func (c Config) Validate() error {
	var errs []error
	p := c.Policy
	if p.MaxWarnings <= 0 {
		errs = append(errs, fmt.Errorf("max warnings must be positive, got %d", p.MaxWarnings))
	}
	if p.BanDuration <= 0 {
		errs = append(errs, fmt.Errorf("ban duration must be positive, got %s", p.BanDuration))
	}
	if p.SuspiciousEditLimit <= 0 {
		errs = append(errs, fmt.Errorf("suspicious edit limit must be positive, got %d", p.SuspiciousEditLimit))
	}
	if p.RetentionWindow <= 0 {
		errs = append(errs, fmt.Errorf("retention window must be positive, got %s", p.RetentionWindow))
	}
	if p.SteepDropThreshold >= 0 {
		errs = append(errs, fmt.Errorf("steep drop threshold must be negative, got %v", p.SteepDropThreshold))
	}
	if p.ToxicityThreshold < 0 || p.ToxicityThreshold > 1 {
		errs = append(errs, fmt.Errorf("toxicity threshold must be within [0,1], got %v", p.ToxicityThreshold))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval))
	}
	if c.ScoringTimeout <= 0 || c.DurableTimeout <= 0 {
		errs = append(errs, errors.New("scoring and durable timeouts must be positive"))
	}
	if c.FastTierCapacity <= 0 {
		errs = append(errs, fmt.Errorf("fast tier capacity must be positive, got %d", c.FastTierCapacity))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.WriteRetries == 0 {
		errs = append(errs, errors.New("write retries must be at least 1"))
	}
	if c.CommentsPerMin < 0 {
		errs = append(errs, fmt.Errorf("comments per minute cannot be negative, got %d", c.CommentsPerMin))
	}
	return errors.Join(errs...)
}
