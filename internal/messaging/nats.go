// Package messaging provides a NATS client wrapper for the moderator's event
// transport. The chat bridge publishes comments, edits and moderator button
// presses; the moderator replies to each request with its decision and
// publishes every decision for other consumers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/comment-moderator/internal/moderation"
)

// NATS subjects used between the chat bridge and the moderator.
const (
	SubjectCommentNew  = "comments.new"
	SubjectCommentEdit = "comments.edited"
	SubjectCommand     = "moderation.command"
	SubjectDecision    = "moderation.decision" // + .<event>
)

// QueueGroup load-balances inbound events across moderator instances.
const QueueGroup = "moderator"

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "comment-moderator",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *slog.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request publishes data on subject and waits up to timeout for the reply.
func (c *NATSClient) Request(subject string, data []byte, timeout time.Duration) ([]byte, error) {
	msg, err := c.conn.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// QueueSubscribe registers a handler for subject in the moderator queue
// group and stores the subscription internally for later cleanup.
func (c *NATSClient) QueueSubscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, QueueGroup, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Processor queues decoded events and later calls reply with the decision.
// Events must be queued in the order they are submitted. It is implemented
// by the worker pool.
type Processor interface {
	SubmitComment(ctx context.Context, ev moderation.CommentEvent, reply func(moderation.Decision))
	SubmitEdit(ctx context.Context, ev moderation.EditEvent, reply func(moderation.Decision))
	SubmitCommand(ctx context.Context, ev moderation.CommandEvent, reply func(moderation.Decision))
}

// ServeEvents subscribes the processor to every inbound subject. Each
// decision is sent as the reply when the publisher asked for one, and is
// always published on moderation.decision.<event>. ctx bounds the handling
// of every event.
func (c *NATSClient) ServeEvents(ctx context.Context, p Processor) error {
	if err := c.QueueSubscribe(SubjectCommentNew, func(msg *nats.Msg) {
		var ev moderation.CommentEvent
		if !c.decode(msg, &ev) {
			return
		}
		p.SubmitComment(ctx, ev, func(d moderation.Decision) { c.respond(msg, d) })
	}); err != nil {
		return err
	}
	if err := c.QueueSubscribe(SubjectCommentEdit, func(msg *nats.Msg) {
		var ev moderation.EditEvent
		if !c.decode(msg, &ev) {
			return
		}
		p.SubmitEdit(ctx, ev, func(d moderation.Decision) { c.respond(msg, d) })
	}); err != nil {
		return err
	}
	return c.QueueSubscribe(SubjectCommand, func(msg *nats.Msg) {
		var ev moderation.CommandEvent
		if !c.decode(msg, &ev) {
			return
		}
		p.SubmitCommand(ctx, ev, func(d moderation.Decision) { c.respond(msg, d) })
	})
}

func (c *NATSClient) decode(msg *nats.Msg, v any) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.logger.Warn("dropping undecodable event", "subject", msg.Subject, "err", err)
		return false
	}
	return true
}

func (c *NATSClient) respond(msg *nats.Msg, d moderation.Decision) {
	data, err := json.Marshal(d)
	if err != nil {
		c.logger.Error("encode decision", "decision_id", d.ID, "err", err)
		return
	}
	if msg.Reply != "" {
		if err := msg.Respond(data); err != nil {
			c.logger.Warn("reply decision", "decision_id", d.ID, "err", err)
		}
	}
	if err := c.Publish(SubjectDecision+"."+d.Event, data); err != nil {
		c.logger.Warn("publish decision", "decision_id", d.ID, "err", err)
	}
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", "subject", subject, "err", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain", "err", err)
	}

	c.logger.Info("client closed")
}
