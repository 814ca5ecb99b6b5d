package main

import (
	"fmt"

	cli "github.com/urfave/cli/v2"

	"github.com/whisper/comment-moderator/internal/config"
)

var defaults = config.Default()

// configFlags expose every policy value and runtime setting.
var configFlags = []cli.Flag{
	&cli.IntFlag{
		Name:    "max-warnings",
		Usage:   "warnings that trigger a temporary ban",
		Value:   defaults.Policy.MaxWarnings,
		EnvVars: []string{"MAX_WARNINGS"},
	},
	&cli.DurationFlag{
		Name:    "ban-duration",
		Usage:   "length of a temporary ban",
		Value:   defaults.Policy.BanDuration,
		EnvVars: []string{"BAN_DURATION"},
	},
	&cli.IntFlag{
		Name:    "suspicious-edit-limit",
		Usage:   "suspicious edits before editing is restricted",
		Value:   defaults.Policy.SuspiciousEditLimit,
		EnvVars: []string{"SUSPICIOUS_EDIT_LIMIT"},
	},
	&cli.DurationFlag{
		Name:    "retention",
		Usage:   "how long tracked messages are kept after their last check",
		Value:   defaults.Policy.RetentionWindow,
		EnvVars: []string{"RETENTION_WINDOW"},
	},
	&cli.Float64Flag{
		Name:    "steep-drop",
		Usage:   "sentiment change at or below which an edit is suspicious",
		Value:   defaults.Policy.SteepDropThreshold,
		EnvVars: []string{"STEEP_DROP_THRESHOLD"},
	},
	&cli.Float64Flag{
		Name:    "negative-threshold",
		Usage:   "sentiment score below which text is negative",
		Value:   defaults.Policy.NegativeThreshold,
		EnvVars: []string{"NEGATIVE_THRESHOLD"},
	},
	&cli.Float64Flag{
		Name:    "toxicity-threshold",
		Usage:   "toxicity above which text is negative",
		Value:   defaults.Policy.ToxicityThreshold,
		EnvVars: []string{"TOXICITY_THRESHOLD"},
	},
	&cli.StringSliceFlag{
		Name:    "negative-emotions",
		Usage:   "emotion labels that make text negative",
		Value:   cli.NewStringSlice(defaults.Policy.NegativeEmotions...),
		EnvVars: []string{"NEGATIVE_EMOTIONS"},
	},
	&cli.DurationFlag{
		Name:    "sweep-interval",
		Usage:   "period of the tracked message retention sweep",
		Value:   defaults.SweepInterval,
		EnvVars: []string{"SWEEP_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "scoring-timeout",
		Usage:   "bound on one sentiment scoring call",
		Value:   defaults.ScoringTimeout,
		EnvVars: []string{"SCORING_TIMEOUT"},
	},
	&cli.DurationFlag{
		Name:    "durable-timeout",
		Usage:   "bound on one Redis call of the message tracker",
		Value:   defaults.DurableTimeout,
		EnvVars: []string{"DURABLE_TIMEOUT"},
	},
	&cli.IntFlag{
		Name:    "fast-tier-capacity",
		Usage:   "tracked messages held in memory",
		Value:   defaults.FastTierCapacity,
		EnvVars: []string{"FAST_TIER_CAPACITY"},
	},
	&cli.IntFlag{
		Name:    "workers",
		Usage:   "event worker shards",
		Value:   defaults.Workers,
		EnvVars: []string{"WORKERS"},
	},
	&cli.UintFlag{
		Name:    "write-retries",
		Usage:   "attempts for user state writes",
		Value:   defaults.WriteRetries,
		EnvVars: []string{"WRITE_RETRIES"},
	},
	&cli.IntFlag{
		Name:    "comments-per-minute",
		Usage:   "per-user comment throttle, 0 disables",
		Value:   defaults.CommentsPerMin,
		EnvVars: []string{"COMMENTS_PER_MINUTE"},
	},
	&cli.BoolFlag{
		Name:    "strict",
		Usage:   "fail on corrupted user records instead of repairing them",
		EnvVars: []string{"STRICT"},
	},
}

func configFromFlags(cctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	cfg.Policy.MaxWarnings = cctx.Int("max-warnings")
	cfg.Policy.BanDuration = cctx.Duration("ban-duration")
	cfg.Policy.SuspiciousEditLimit = cctx.Int("suspicious-edit-limit")
	cfg.Policy.RetentionWindow = cctx.Duration("retention")
	cfg.Policy.SteepDropThreshold = cctx.Float64("steep-drop")
	cfg.Policy.NegativeThreshold = cctx.Float64("negative-threshold")
	cfg.Policy.ToxicityThreshold = cctx.Float64("toxicity-threshold")
	cfg.Policy.NegativeEmotions = cctx.StringSlice("negative-emotions")
	cfg.SweepInterval = cctx.Duration("sweep-interval")
	cfg.ScoringTimeout = cctx.Duration("scoring-timeout")
	cfg.DurableTimeout = cctx.Duration("durable-timeout")
	cfg.FastTierCapacity = cctx.Int("fast-tier-capacity")
	cfg.Workers = cctx.Int("workers")
	cfg.WriteRetries = cctx.Uint("write-retries")
	cfg.CommentsPerMin = cctx.Int("comments-per-minute")
	cfg.Strict = cctx.Bool("strict")

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
