package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/whisper/comment-moderator/internal/anomaly"
	"github.com/whisper/comment-moderator/internal/ban"
	"github.com/whisper/comment-moderator/internal/comment"
	"github.com/whisper/comment-moderator/internal/config"
	"github.com/whisper/comment-moderator/internal/moderation"
	"github.com/whisper/comment-moderator/internal/modlog"
	"github.com/whisper/comment-moderator/internal/scoring"
	"github.com/whisper/comment-moderator/internal/tracking"
)

type userRepo struct {
	mu    sync.Mutex
	users map[int64]ban.Record
	log   []modlog.Entry
	down  bool
}

func (r *userRepo) UpdateUser(_ context.Context, userID int64, handle string, fn func(*ban.Record) (ban.Change, error)) (*ban.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errors.New("connection refused")
	}
	rec, ok := r.users[userID]
	if !ok {
		rec = ban.Record{UserID: userID, CreatedAt: time.Now()}
	}
	if rec.BanExpiresAt != nil {
		t := *rec.BanExpiresAt
		rec.BanExpiresAt = &t
	}
	if handle != "" {
		rec.Handle = handle
	}
	change, err := fn(&rec)
	if err != nil {
		return nil, err
	}
	r.users[userID] = rec
	r.log = append(r.log, change.Log...)
	out := rec
	return &out, nil
}

func (r *userRepo) GetUser(_ context.Context, userID int64) (*ban.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *userRepo) user(id int64) ban.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *userRepo) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

type commentRepo struct {
	mu       sync.Mutex
	nextID   int64
	comments map[int64]*comment.Comment
	edits    []comment.Edit
	log      []modlog.Entry
}

func (r *commentRepo) CreateComment(_ context.Context, c *comment.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	c.CreatedAt = time.Now()
	cp := *c
	r.comments[c.ID] = &cp
	return nil
}

func (r *commentRepo) GetComment(_ context.Context, id int64) (*comment.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok {
		return nil, comment.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *commentRepo) GetCommentByMessage(_ context.Context, messageID int64) (*comment.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *comment.Comment
	for _, c := range r.comments {
		if c.MessageID == messageID && (found == nil || c.ID > found.ID) {
			found = c
		}
	}
	if found == nil {
		return nil, comment.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *commentRepo) ModerateComment(_ context.Context, id int64, m comment.Moderation) (*comment.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok {
		return nil, comment.ErrNotFound
	}
	if c.Status != comment.StatusPending {
		return nil, comment.ErrAlreadyModerated
	}
	c.Status = m.Status
	c.ModeratedBy = m.ModeratorID
	c.RejectionReason = m.Reason
	r.log = append(r.log, m.Log)
	cp := *c
	return &cp, nil
}

func (r *commentRepo) RecordCommentEdit(_ context.Context, id int64, e comment.Edit) (*comment.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok {
		return nil, comment.ErrNotFound
	}
	e.OldText = c.Text
	r.edits = append(r.edits, e)
	c.Text = e.NewText
	c.IsEdited = true
	c.EditCount++
	cp := *c
	return &cp, nil
}

func (r *commentRepo) get(id int64) comment.Comment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.comments[id]
}

// scores maps text to a result; texts not listed score neutral and
// texts listed in fail cannot be scored.
type scores struct {
	results map[string]scoring.Result
	fail    map[string]bool
}

func (s *scores) Score(_ context.Context, text string) (scoring.Result, error) {
	if s.fail[text] {
		return scoring.Result{}, errors.New("classifier timeout")
	}
	return s.results[text], nil
}

type denyList map[int64]bool

func (d denyList) AllowComment(_ context.Context, userID int64) bool { return !d[userID] }

type fixture struct {
	handler  *Handler
	users    *userRepo
	comments *commentRepo
	tracker  *tracking.Store
	scores   *scores
}

func newFixture(t *testing.T, throttle Throttle) *fixture {
	t.Helper()
	policy := config.DefaultPolicy()
	users := &userRepo{users: make(map[int64]ban.Record)}
	comments := &commentRepo{comments: make(map[int64]*comment.Comment)}
	tracker := tracking.NewStore(nil, tracking.Options{Capacity: 100, Retention: policy.RetentionWindow})
	sc := &scores{results: make(map[string]scoring.Result), fail: make(map[string]bool)}
	negativity := scoring.PolicyFrom(policy)

	machine := ban.NewMachine(users, ban.Options{
		Policy:   policy,
		Messages: config.DefaultMessages(),
		Retries:  2,
		Backoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Millisecond)
		},
	})
	h := New(Deps{
		Machine:  machine,
		Detector: anomaly.NewDetector(sc, tracker, moderation.NewMatcher(), negativity, policy.SteepDropThreshold),
		Tracker:  tracker,
		Comments: comment.NewWorkflow(comments),
		Throttle: throttle,
		Policy:   negativity,
		Messages: config.DefaultMessages(),
	})
	return &fixture{handler: h, users: users, comments: comments, tracker: tracker, scores: sc}
}
