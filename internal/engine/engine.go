// Package engine parses client lines into internal commands, relays worker
// replies to the gateway and bridges state snapshots from the workers'
// upstream bus to the downstream bus every subscriber listens on.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/transport"
)

// Engine must run as a single instance.
type Engine struct {
	tr  transport.Transport
	log zerolog.Logger

	users core.Users

	// pending holds identities whose create was routed but that no users
	// snapshot has shown yet.
	pending map[string]struct{}
}

// New creates an engine on tr.
func New(tr transport.Transport, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{
		tr:      tr,
		log:     logger.With().Str("worker", "engine").Logger(),
		users:   make(core.Users),
		pending: make(map[string]struct{}),
	}
}

// Run serves client lines, replies and snapshots until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	lines, err := e.tr.Queue(proto.QueueEngine).Consume(ctx)
	if err != nil {
		return fmt.Errorf("engine: consume %s: %w", proto.QueueEngine, err)
	}
	replies, err := e.tr.Queue(proto.QueueReplies).Consume(ctx)
	if err != nil {
		return fmt.Errorf("engine: consume %s: %w", proto.QueueReplies, err)
	}
	updates, err := e.tr.Bus(proto.BusUpstream).Subscribe(ctx, proto.TopicUsers, proto.TopicRooms)
	if err != nil {
		return fmt.Errorf("engine: subscribe %s: %w", proto.BusUpstream, err)
	}

	e.log.Info().Msg("worker started")
	defer e.log.Info().Msg("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-lines:
			if !ok {
				return e.closed(ctx, proto.QueueEngine)
			}
			e.fromClient(ctx, data)
		case data, ok := <-replies:
			if !ok {
				return e.closed(ctx, proto.QueueReplies)
			}
			e.push(ctx, proto.QueueGateway, data)
		case pub, ok := <-updates:
			if !ok {
				return e.closed(ctx, proto.BusUpstream)
			}
			e.fromBroadcast(ctx, pub)
		}
	}
}

func (e *Engine) closed(ctx context.Context, what string) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("engine: %s closed: %w", what, transport.ErrClosed)
}

func (e *Engine) fromClient(ctx context.Context, data []byte) {
	env, err := proto.DecodeEnvelope(data)
	if err != nil {
		e.log.Warn().Err(err).Msg("dropping undecodable client envelope")
		return
	}
	if !env.Valid() {
		e.log.Warn().Msg("dropping client envelope without identity")
		return
	}

	action, ok := e.route(env)
	if !ok {
		e.log.Debug().Str("identity", env.Identity).Msg("line ignored")
		return
	}
	if action.Reply != "" {
		e.send(ctx, proto.QueueGateway, core.Send(env.Identity, action.Reply))
		return
	}
	cmd := action.Command
	e.log.Debug().Str("identity", cmd.Identity).Str("command", cmd.Kind.String()).Msg("routing command")
	e.send(ctx, cmd.Kind.Queue(), cmd.Wire())
}

// route is Route plus the disconnect of a connection whose create has not
// shown up in a snapshot yet: that must remove the user, not create it again.
func (e *Engine) route(env proto.ClientEnvelope) (Action, bool) {
	_, known := e.users[env.Identity]
	_, pending := e.pending[env.Identity]
	if !known && pending && env.Body == "" {
		delete(e.pending, env.Identity)
		return Action{Command: core.Command{Kind: core.CommandHardQuit, Identity: env.Identity}}, true
	}

	action, ok := Route(e.users, env)
	if ok && action.Command.Kind == core.CommandCreateUser {
		e.pending[env.Identity] = struct{}{}
	}
	return action, ok
}

func (e *Engine) fromBroadcast(ctx context.Context, pub transport.Publication) {
	if pub.Topic == proto.TopicUsers {
		users, err := proto.DecodeUsers(pub.Payload)
		if err != nil {
			e.log.Warn().Err(err).Msg("dropping users snapshot")
		} else {
			e.users = core.UsersFromSnapshot(users)
			for id := range e.pending {
				if _, ok := e.users[id]; ok {
					delete(e.pending, id)
				}
			}
		}
	}
	if err := e.tr.Bus(proto.BusDownstream).Publish(ctx, pub.Topic, pub.Payload); err != nil {
		e.logSendError(err, "mirror snapshot", pub.Topic)
	}
}

func (e *Engine) send(ctx context.Context, queue string, msg proto.InternalCommand) {
	data, err := proto.EncodeCommand(msg)
	if err != nil {
		e.log.Error().Err(err).Msg("encode command")
		return
	}
	e.push(ctx, queue, data)
}

func (e *Engine) push(ctx context.Context, queue string, data []byte) {
	if err := e.tr.Queue(queue).Push(ctx, data); err != nil {
		e.logSendError(err, "push", queue)
	}
}

func (e *Engine) logSendError(err error, msg, target string) {
	if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrClosed) {
		e.log.Debug().Err(err).Str("target", target).Msg(msg)
		return
	}
	e.log.Error().Err(err).Str("target", target).Msg(msg)
}
