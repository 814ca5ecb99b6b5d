package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/comment-moderator/internal/modlog"
	"github.com/whisper/comment-moderator/internal/tracking"
)

type entry struct {
	kind modlog.Kind
	at   time.Time
}

type memLog struct {
	entries []entry
	err     error
	calls   int
}

func (l *memLog) CountByKind(_ context.Context, since *time.Time) (map[modlog.Kind]int, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	out := make(map[modlog.Kind]int)
	for _, e := range l.entries {
		if since != nil && e.at.Before(*since) {
			continue
		}
		out[e.kind]++
	}
	return out, nil
}

type fixedEdits tracking.EditStats

func (f fixedEdits) Stats() tracking.EditStats { return tracking.EditStats(f) }

func TestAggregateEmptyLog(t *testing.T) {
	a := NewAggregator(&memLog{}, nil)
	c, err := a.Aggregate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)
}

func TestAggregateCountsKinds(t *testing.T) {
	now := time.Now()
	log := &memLog{entries: []entry{
		{modlog.KindApprove, now},
		{modlog.KindApprove, now},
		{modlog.KindReject, now},
		{modlog.KindAutoReject, now},
		{modlog.KindWarning, now},
		{modlog.KindWarning, now},
		{modlog.KindBan, now},
		{modlog.KindBlacklist, now},
		{modlog.KindSuspiciousEdit, now},
		{modlog.KindEditRestricted, now},
		{modlog.KindEditRestrictionCleared, now},
	}}
	c, err := NewAggregator(log, nil).Aggregate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{
		Total:            11,
		Approved:         2,
		Rejected:         2,
		AutoRejected:     1,
		Warnings:         2,
		Bans:             1,
		Blacklists:       1,
		SuspiciousEdits:  1,
		EditRestrictions: 1,
	}, c)
}

func TestAggregateSince(t *testing.T) {
	now := time.Now()
	log := &memLog{entries: []entry{
		{modlog.KindApprove, now.Add(-48 * time.Hour)},
		{modlog.KindApprove, now.Add(-time.Hour)},
	}}
	since := now.Add(-24 * time.Hour)
	c, err := NewAggregator(log, nil).Aggregate(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Approved)
}

func TestAggregateError(t *testing.T) {
	a := NewAggregator(&memLog{err: errors.New("db down")}, nil)
	_, err := a.Aggregate(context.Background(), nil)
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	log := &memLog{entries: []entry{
		{modlog.KindWarning, now.Add(-72 * time.Hour)},
		{modlog.KindWarning, now.Add(-time.Hour)},
		{modlog.KindBlacklist, now.Add(-time.Hour)},
	}}
	a := NewAggregator(log, fixedEdits{TrackedMessages: 4, TotalEdits: 6, SuspiciousEdits: 2})
	a.now = func() time.Time { return now }

	r, err := a.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.LastDay.Warnings)
	assert.Equal(t, 2, r.AllTime.Warnings)
	assert.Equal(t, 1, r.AllTime.Blacklists)
	assert.Equal(t, 6, r.Edits.TotalEdits)
	assert.Equal(t, 2, log.calls)

	text := r.String()
	assert.Contains(t, text, "Last 24 hours")
	assert.Contains(t, text, "users blacklisted:  1")
	assert.Contains(t, text, "total edits:        6")
}
