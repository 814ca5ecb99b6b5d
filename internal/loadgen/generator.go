package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/whisper/comment-moderator/internal/messaging"
	"github.com/whisper/comment-moderator/internal/moderation"
)

// Requester sends one request and returns the reply body.
type Requester interface {
	Request(subject string, data []byte, timeout time.Duration) ([]byte, error)
}

// Config controls the shape of the generated traffic.
type Config struct {
	Comments    int           // comments to send
	Users       int           // distinct authors, comments rotate over them
	EditRatio   float64       // share of comments followed by an edit, in [0,1]
	Rate        float64       // comments per second, 0 is unlimited
	Concurrency int           // requests in flight
	Timeout     time.Duration // per request
	ChatID      int64
	FirstID     int64 // message id of the first generated comment
}

// DefaultConfig returns a small smoke-test load.
func DefaultConfig() Config {
	return Config{
		Comments:    1000,
		Users:       100,
		EditRatio:   0.2,
		Rate:        200,
		Concurrency: 50,
		Timeout:     5 * time.Second,
		ChatID:      -100,
		FirstID:     time.Now().Unix() * 1000,
	}
}

var (
	benign = []string{
		"great post, thanks for sharing",
		"interesting point about the release",
		"I agree with most of this",
		"where can I read more?",
		"nice work everyone",
	}
	hostile = []string{
		"this is stupid and you are an idiot",
		"awful garbage, hate it",
		"join t.me/freecoins for free money",
	}
)

// Generator sends synthetic comments and edits and records the decisions.
type Generator struct {
	cfg  Config
	req  Requester
	coll *Collector
	rng  *rand.Rand
}

// NewGenerator creates a Generator. Results go to coll.
func NewGenerator(req Requester, cfg Config, coll *Collector) *Generator {
	if cfg.Users <= 0 {
		cfg.Users = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Generator{
		cfg:  cfg,
		req:  req,
		coll: coll,
		rng:  rand.New(rand.NewPCG(uint64(cfg.FirstID), 1)),
	}
}

// Run sends cfg.Comments comments and waits for every reply. It stops early
// when ctx is cancelled. Request failures are counted, not returned.
func (g *Generator) Run(ctx context.Context) error {
	limit := rate.Inf
	if g.cfg.Rate > 0 {
		limit = rate.Limit(g.cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i := 0; i < g.cfg.Comments; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		ev := g.comment(i)
		edit := g.rng.Float64() < g.cfg.EditRatio
		editText := g.pick()
		eg.Go(func() error {
			g.send(messaging.SubjectCommentNew, moderation.EventComment, ev)
			if edit {
				g.send(messaging.SubjectCommentEdit, moderation.EventEdit, moderation.EditEvent{
					MessageID: ev.MessageID,
					ChatID:    ev.ChatID,
					UserID:    ev.UserID,
					Handle:    ev.Handle,
					Text:      editText,
					Ts:        time.Now().Unix(),
				})
			}
			return nil
		})
	}
	return eg.Wait()
}

func (g *Generator) pick() string {
	if g.rng.IntN(5) == 0 {
		return hostile[g.rng.IntN(len(hostile))]
	}
	return benign[g.rng.IntN(len(benign))]
}

func (g *Generator) comment(i int) moderation.CommentEvent {
	user := int64(i%g.cfg.Users) + 1
	return moderation.CommentEvent{
		MessageID: g.cfg.FirstID + int64(i),
		ChatID:    g.cfg.ChatID,
		UserID:    user,
		Handle:    fmt.Sprintf("load%d", user),
		Text:      g.pick(),
		Ts:        time.Now().Unix(),
	}
}

func (g *Generator) send(subject, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.coll.AddError()
		return
	}
	start := time.Now()
	resp, err := g.req.Request(subject, data, g.cfg.Timeout)
	if err != nil {
		g.coll.AddError()
		return
	}
	var d moderation.Decision
	if err := json.Unmarshal(resp, &d); err != nil {
		g.coll.AddError()
		return
	}
	g.coll.AddDecision(event, string(d.Outcome), time.Since(start))
}
