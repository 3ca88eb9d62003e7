// Package chat implements the stateless relay that fans chat lines out to a room.
// Any number of relays may consume the chat queue.
package chat

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/worker"
)

// Relay resolves room membership from its cached users snapshot.
type Relay struct {
	rt    *worker.Runtime
	log   *zerolog.Logger
	users core.Users
}

// New creates a relay served by rt.
func New(rt *worker.Runtime) *Relay {
	return &Relay{
		rt:    rt,
		log:   rt.Logger(),
		users: make(core.Users),
	}
}

// Run blocks serving commands until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.rt.Run(ctx, r)
}

// HandleCommand serves broadcast.
func (r *Relay) HandleCommand(ctx context.Context, cmd core.Command) {
	if cmd.Kind != core.CommandBroadcast {
		r.log.Warn().Str("command", cmd.Kind.String()).Msg("unsupported command")
		return
	}
	r.rt.Reply(ctx, broadcast(r.users, cmd.Identity, cmd.Arguments)...)
}

// HandleBroadcast replaces the cached users.
func (r *Relay) HandleBroadcast(_ context.Context, topic string, payload []byte) {
	if topic != proto.TopicUsers {
		return
	}
	users, err := proto.DecodeUsers(payload)
	if err != nil {
		r.log.Warn().Err(err).Msg("dropping users snapshot")
		return
	}
	r.users = core.UsersFromSnapshot(users)
}

func broadcast(users core.Users, identity, text string) []proto.InternalCommand {
	sender, ok := users[identity]
	if !ok || sender.Room == "" {
		return nil
	}
	line := core.Format(core.TextChat, sender.Login, text)
	targets := users.InRoom(sender.Room, "")
	out := make([]proto.InternalCommand, 0, len(targets))
	for _, id := range targets {
		out = append(out, core.Send(id, line))
	}
	return out
}
