package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/whisper/comment-moderator/internal/metrics"
	"github.com/whisper/comment-moderator/internal/moderation"
)

// ErrPoolStopped is returned for events submitted after the pool stopped.
var ErrPoolStopped = errors.New("handler: pool stopped")

// PoolConfig holds tunable parameters for the worker pool.
type PoolConfig struct {
	Workers   int // number of shards, each served by one goroutine
	QueueSize int // buffered events per shard

	// Observe is called with every decision after it is produced, from the
	// worker goroutine. It must not block.
	Observe func(moderation.Decision)
}

type job struct {
	ctx   context.Context
	event string
	run   func(ctx context.Context) (moderation.Decision, error)
	reply func(moderation.Decision)
}

// Pool runs the handler on a fixed set of workers. Events are sharded by
// user id, so events of one user are handled in arrival order while other
// users proceed in parallel.
type Pool struct {
	handler *Handler
	shards  []chan job
	observe func(moderation.Decision)
	logger  *slog.Logger
	done    chan struct{}
}

// NewPool creates a Pool. Call Run to start the workers.
func NewPool(h *Handler, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		handler: h,
		shards:  make([]chan job, cfg.Workers),
		observe: cfg.Observe,
		logger:  logger.With("component", "pool"),
		done:    make(chan struct{}),
	}
	for i := range p.shards {
		p.shards[i] = make(chan job, cfg.QueueSize)
	}
	return p
}

// Run starts the workers and blocks until ctx is cancelled. Events already
// taken by a worker finish; queued events are answered with retry. Run must
// be called once.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, shard := range p.shards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, shard)
		}()
	}
	p.logger.Info("worker pool started", "workers", len(p.shards))

	<-ctx.Done()
	wg.Wait()
	close(p.done)
	p.drain()
	return nil
}

func (p *Pool) work(ctx context.Context, shard <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-shard:
			j.reply(p.process(j))
		}
	}
}

func (p *Pool) drain() {
	for _, shard := range p.shards {
		for {
			select {
			case j := <-shard:
				j.reply(p.retry(j.event, ErrPoolStopped))
				continue
			default:
			}
			break
		}
	}
}

func (p *Pool) process(j job) moderation.Decision {
	start := time.Now()
	d, err := j.run(j.ctx)
	if err != nil {
		p.logger.Error("event failed", "event", j.event, "err", err)
		d = p.retry(j.event, err)
	}
	metrics.EventsTotal.WithLabelValues(j.event, string(d.Outcome)).Inc()
	metrics.EventLatency.WithLabelValues(j.event).Observe(time.Since(start).Seconds())
	if p.observe != nil {
		p.observe(d)
	}
	return d
}

func (p *Pool) retry(event string, err error) moderation.Decision {
	d := p.handler.decision(event, moderation.OutcomeRetry)
	d.Reason = err.Error()
	return d
}

func (p *Pool) shard(key int64) chan job {
	return p.shards[uint64(key)%uint64(len(p.shards))]
}

// enqueue queues fn on the shard of key. reply is called with the decision
// from a worker goroutine, or from the caller when ctx is cancelled or the
// pool has stopped. An event queued while Run is returning gets no reply.
func (p *Pool) enqueue(ctx context.Context, key int64, event string, fn func(ctx context.Context) (moderation.Decision, error), reply func(moderation.Decision)) {
	j := job{ctx: ctx, event: event, run: fn, reply: reply}
	select {
	case <-p.done:
		reply(p.retry(event, ErrPoolStopped))
		return
	default:
	}
	select {
	case p.shard(key) <- j:
	case <-ctx.Done():
		reply(p.retry(event, ctx.Err()))
	case <-p.done:
		reply(p.retry(event, ErrPoolStopped))
	}
}

// wait runs enqueue and blocks for the decision.
func (p *Pool) wait(ctx context.Context, key int64, event string, fn func(ctx context.Context) (moderation.Decision, error)) moderation.Decision {
	ch := make(chan moderation.Decision, 1)
	p.enqueue(ctx, key, event, fn, func(d moderation.Decision) { ch <- d })
	select {
	case d := <-ch:
		return d
	case <-ctx.Done():
		return p.retry(event, ctx.Err())
	case <-p.done:
		select {
		case d := <-ch:
			return d
		default:
			return p.retry(event, ErrPoolStopped)
		}
	}
}

func (p *Pool) comment(ev moderation.CommentEvent) func(ctx context.Context) (moderation.Decision, error) {
	return func(ctx context.Context) (moderation.Decision, error) { return p.handler.HandleComment(ctx, ev) }
}

func (p *Pool) edit(ev moderation.EditEvent) func(ctx context.Context) (moderation.Decision, error) {
	return func(ctx context.Context) (moderation.Decision, error) { return p.handler.HandleEdit(ctx, ev) }
}

func (p *Pool) command(ev moderation.CommandEvent) func(ctx context.Context) (moderation.Decision, error) {
	return func(ctx context.Context) (moderation.Decision, error) { return p.handler.HandleCommand(ctx, ev) }
}

// SubmitComment queues a new comment event. reply receives the decision.
func (p *Pool) SubmitComment(ctx context.Context, ev moderation.CommentEvent, reply func(moderation.Decision)) {
	p.enqueue(ctx, ev.UserID, moderation.EventComment, p.comment(ev), reply)
}

// SubmitEdit queues an edit event. reply receives the decision.
func (p *Pool) SubmitEdit(ctx context.Context, ev moderation.EditEvent, reply func(moderation.Decision)) {
	p.enqueue(ctx, ev.UserID, moderation.EventEdit, p.edit(ev), reply)
}

// SubmitCommand queues a moderator command. Commands are sharded by
// moderator; the state machine serializes the affected user.
func (p *Pool) SubmitCommand(ctx context.Context, ev moderation.CommandEvent, reply func(moderation.Decision)) {
	p.enqueue(ctx, ev.ModeratorID, moderation.EventCommand, p.command(ev), reply)
}

// Comment handles a new comment event and waits for the decision.
func (p *Pool) Comment(ctx context.Context, ev moderation.CommentEvent) moderation.Decision {
	return p.wait(ctx, ev.UserID, moderation.EventComment, p.comment(ev))
}

// Edit handles an edit event and waits for the decision.
func (p *Pool) Edit(ctx context.Context, ev moderation.EditEvent) moderation.Decision {
	return p.wait(ctx, ev.UserID, moderation.EventEdit, p.edit(ev))
}

// Command handles a moderator command and waits for the decision.
func (p *Pool) Command(ctx context.Context, ev moderation.CommandEvent) moderation.Decision {
	return p.wait(ctx, ev.ModeratorID, moderation.EventCommand, p.command(ev))
}
