// Package worker provides the event loop shared by the stateful workers.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/transport"
)

// Handler receives the decoded inputs of one worker.
// Calls never overlap, so implementations need no locking.
type Handler interface {
	HandleCommand(ctx context.Context, cmd core.Command)
	HandleBroadcast(ctx context.Context, topic string, payload []byte)
}

// Config wires a runtime to its endpoints.
type Config struct {
	// Name identifies the worker in logs.
	Name string
	// Queue is the name of the inbound work queue; it scopes command names.
	Queue string
	// Inbox delivers work items.
	Inbox transport.Queue
	// Replies receives every reply and gateway directive the worker emits.
	Replies transport.Queue
	// Publisher receives state snapshots.
	Publisher transport.Bus
	// Subscriber delivers state snapshots for Topics.
	Subscriber transport.Bus
	Topics     []string
}

// Runtime multiplexes a work queue and a broadcast subscription into a Handler.
type Runtime struct {
	cfg Config
	log zerolog.Logger
}

// New builds a runtime. The logger gets a worker field.
func New(cfg Config, logger *zerolog.Logger) *Runtime {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Runtime{
		cfg: cfg,
		log: logger.With().Str("worker", cfg.Name).Logger(),
	}
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *zerolog.Logger {
	return &r.log
}

// Run consumes both inputs until ctx is cancelled. Neither input has priority:
// when both are ready the select picks one at random.
func (r *Runtime) Run(ctx context.Context, h Handler) error {
	work, err := r.cfg.Inbox.Consume(ctx)
	if err != nil {
		return fmt.Errorf("%s: consume %s: %w", r.cfg.Name, r.cfg.Queue, err)
	}

	var updates <-chan transport.Publication
	if len(r.cfg.Topics) > 0 {
		updates, err = r.cfg.Subscriber.Subscribe(ctx, r.cfg.Topics...)
		if err != nil {
			return fmt.Errorf("%s: subscribe %v: %w", r.cfg.Name, r.cfg.Topics, err)
		}
	}

	r.log.Info().Str("queue", r.cfg.Queue).Strs("topics", r.cfg.Topics).Msg("worker started")
	defer r.log.Info().Msg("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-work:
			if !ok {
				return r.closed(ctx, "work queue")
			}
			r.dispatch(ctx, h, payload)
		case pub, ok := <-updates:
			if !ok {
				return r.closed(ctx, "subscription")
			}
			h.HandleBroadcast(ctx, pub.Topic, pub.Payload)
		}
	}
}

func (r *Runtime) closed(ctx context.Context, what string) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %s closed: %w", r.cfg.Name, what, transport.ErrClosed)
}

func (r *Runtime) dispatch(ctx context.Context, h Handler, payload []byte) {
	msg, err := proto.DecodeCommand(payload)
	if err != nil {
		r.log.Warn().Err(err).Msg("dropping undecodable work item")
		return
	}
	if !msg.Valid() {
		r.log.Warn().Str("identity", msg.Identity).Str("command", msg.Command).Msg("dropping invalid work item")
		return
	}
	kind := core.ParseCommand(r.cfg.Queue, msg.Command)
	if kind == core.CommandUnknown {
		r.log.Warn().Str("identity", msg.Identity).Str("command", msg.Command).Msg("dropping unknown command")
		return
	}
	h.HandleCommand(ctx, core.Command{Kind: kind, Identity: msg.Identity, Arguments: msg.Arguments})
}

// Reply pushes messages to the reply queue in order. Failures are logged.
func (r *Runtime) Reply(ctx context.Context, msgs ...proto.InternalCommand) {
	for _, m := range msgs {
		data, err := proto.EncodeCommand(m)
		if err != nil {
			r.log.Error().Err(err).Msg("encode reply")
			continue
		}
		if err := r.cfg.Replies.Push(ctx, data); err != nil {
			r.logSendError(err, "push reply", m.Identity)
		}
	}
}

// Publish emits a snapshot on topic. Failures are logged.
func (r *Runtime) Publish(ctx context.Context, topic string, payload []byte) {
	if err := r.cfg.Publisher.Publish(ctx, topic, payload); err != nil {
		r.logSendError(err, "publish snapshot", topic)
	}
}

func (r *Runtime) logSendError(err error, msg, target string) {
	if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrClosed) {
		r.log.Debug().Err(err).Str("target", target).Msg(msg)
		return
	}
	r.log.Error().Err(err).Str("target", target).Msg(msg)
}
