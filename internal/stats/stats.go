// Package stats aggregates the moderation action log into counts for
// reports and the admin API. It only reads.
package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/whisper/comment-moderator/internal/modlog"
	"github.com/whisper/comment-moderator/internal/tracking"
)

// LogReader counts action log entries per kind. since is nil for all time.
type LogReader interface {
	CountByKind(ctx context.Context, since *time.Time) (map[modlog.Kind]int, error)
}

// EditSource reports edit statistics of tracked messages.
type EditSource interface {
	Stats() tracking.EditStats
}

// Counts are action totals over a period.
type Counts struct {
	Total            int `json:"total_actions"`
	Approved         int `json:"approved_comments"`
	Rejected         int `json:"rejected_comments"` // manual and automatic
	AutoRejected     int `json:"auto_rejected_comments"`
	Warnings         int `json:"warnings_issued"`
	Bans             int `json:"users_banned"`
	Blacklists       int `json:"users_blacklisted"`
	SuspiciousEdits  int `json:"suspicious_edits"`
	EditRestrictions int `json:"edit_restrictions"`
}

// Aggregator computes Counts.
type Aggregator struct {
	log   LogReader
	edits EditSource
	now   func() time.Time
}

// NewAggregator creates an Aggregator. edits may be nil.
func NewAggregator(log LogReader, edits EditSource) *Aggregator {
	return &Aggregator{log: log, edits: edits, now: time.Now}
}

// Aggregate counts actions logged at or after since, or all actions when
// since is nil. An empty log yields zero counts.
func (a *Aggregator) Aggregate(ctx context.Context, since *time.Time) (Counts, error) {
	byKind, err := a.log.CountByKind(ctx, since)
	if err != nil {
		return Counts{}, fmt.Errorf("stats: aggregate: %w", err)
	}

	var c Counts
	for _, n := range byKind {
		c.Total += n
	}
	c.Approved = byKind[modlog.KindApprove]
	c.AutoRejected = byKind[modlog.KindAutoReject]
	c.Rejected = byKind[modlog.KindReject] + c.AutoRejected
	c.Warnings = byKind[modlog.KindWarning]
	c.Bans = byKind[modlog.KindBan]
	c.Blacklists = byKind[modlog.KindBlacklist]
	c.SuspiciousEdits = byKind[modlog.KindSuspiciousEdit]
	c.EditRestrictions = byKind[modlog.KindEditRestricted]
	return c, nil
}

// Report is the moderator summary.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	LastDay     Counts             `json:"last_24h"`
	AllTime     Counts             `json:"all_time"`
	Edits       tracking.EditStats `json:"edits"`
}

// Report builds the summary for the last 24 hours and all time.
func (a *Aggregator) Report(ctx context.Context) (Report, error) {
	now := a.now()
	since := now.Add(-24 * time.Hour)

	day, err := a.Aggregate(ctx, &since)
	if err != nil {
		return Report{}, err
	}
	total, err := a.Aggregate(ctx, nil)
	if err != nil {
		return Report{}, err
	}

	r := Report{GeneratedAt: now, LastDay: day, AllTime: total}
	if a.edits != nil {
		r.Edits = a.edits.Stats()
	}
	return r, nil
}

// String renders the report as plain text.
func (r Report) String() string {
	var b strings.Builder
	b.WriteString("Moderation statistics\n\n")
	b.WriteString("Last 24 hours:\n")
	fmt.Fprintf(&b, "  approved comments:  %d\n", r.LastDay.Approved)
	fmt.Fprintf(&b, "  rejected comments:  %d\n", r.LastDay.Rejected)
	fmt.Fprintf(&b, "  warnings issued:    %d\n", r.LastDay.Warnings)
	fmt.Fprintf(&b, "  users banned:       %d\n", r.LastDay.Bans)
	fmt.Fprintf(&b, "  suspicious edits:   %d\n", r.LastDay.SuspiciousEdits)
	b.WriteString("\nAll time:\n")
	fmt.Fprintf(&b, "  approved comments:  %d\n", r.AllTime.Approved)
	fmt.Fprintf(&b, "  rejected comments:  %d\n", r.AllTime.Rejected)
	fmt.Fprintf(&b, "  warnings issued:    %d\n", r.AllTime.Warnings)
	fmt.Fprintf(&b, "  users banned:       %d\n", r.AllTime.Bans)
	fmt.Fprintf(&b, "  users blacklisted:  %d\n", r.AllTime.Blacklists)
	b.WriteString("\nEdits:\n")
	fmt.Fprintf(&b, "  tracked messages:   %d\n", r.Edits.TrackedMessages)
	fmt.Fprintf(&b, "  total edits:        %d\n", r.Edits.TotalEdits)
	fmt.Fprintf(&b, "  suspicious edits:   %d\n", r.Edits.SuspiciousEdits)
	return b.String()
}
