// Package rooms implements the worker owning the canonical room list.
package rooms

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/worker"
)

// Registry is the only writer of the room list. Occupancy counts are
// recomputed locally from each users snapshot and are not republished.
type Registry struct {
	rt    *worker.Runtime
	log   *zerolog.Logger
	rooms core.Rooms
	users core.Users
}

// New creates an empty registry served by rt.
func New(rt *worker.Runtime) *Registry {
	return &Registry{
		rt:    rt,
		log:   rt.Logger(),
		users: make(core.Users),
	}
}

// Run blocks serving commands until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	return r.rt.Run(ctx, r)
}

// HandleCommand serves create and list.
func (r *Registry) HandleCommand(ctx context.Context, cmd core.Command) {
	switch cmd.Kind {
	case core.CommandCreateRoom:
		rooms, reply, err := createRoom(r.rooms, cmd.Identity, cmd.Arguments)
		r.rt.Reply(ctx, reply)
		if err != nil {
			r.log.Debug().Err(err).Str("identity", cmd.Identity).Msg("create room rejected")
			return
		}
		r.rooms = rooms
		r.log.Info().Str("room", cmd.Arguments).Msg("room created")
		r.share(ctx)
	case core.CommandListRooms:
		r.rt.Reply(ctx, core.Send(cmd.Identity, renderList(r.rooms)))
	default:
		r.log.Warn().Str("command", cmd.Kind.String()).Msg("unsupported command")
	}
}

// HandleBroadcast recounts occupancy from a users snapshot.
func (r *Registry) HandleBroadcast(_ context.Context, topic string, payload []byte) {
	if topic != proto.TopicUsers {
		return
	}
	users, err := proto.DecodeUsers(payload)
	if err != nil {
		r.log.Warn().Err(err).Msg("dropping users snapshot")
		return
	}
	r.users = core.UsersFromSnapshot(users)
	r.rooms = r.rooms.Recount(r.users)
}

func (r *Registry) share(ctx context.Context) {
	data, err := proto.EncodeRooms(r.rooms.Snapshot())
	if err != nil {
		r.log.Error().Err(err).Msg("encode rooms snapshot")
		return
	}
	r.rt.Publish(ctx, proto.TopicRooms, data)
}

func createRoom(rooms core.Rooms, identity, name string) (core.Rooms, proto.InternalCommand, error) {
	if rooms.Has(name) {
		cerr := core.RoomExists(name)
		return rooms, core.Send(identity, cerr.Message), cerr
	}
	out := make(core.Rooms, len(rooms), len(rooms)+1)
	copy(out, rooms)
	out = append(out, core.Room{Name: name})
	return out, core.Send(identity, core.Format(core.TextRoomCreated, name)), nil
}

func renderList(rooms core.Rooms) string {
	lines := make([]string, len(rooms))
	for i, room := range rooms {
		lines[i] = core.Format(core.TextRoom, room.Name, strconv.Itoa(room.ConnectedUsers))
	}
	sort.Strings(lines)

	var b strings.Builder
	b.WriteString(core.TextActiveRooms)
	for _, line := range lines {
		b.WriteString(line)
	}
	b.WriteString(core.TextEndList)
	return b.String()
}
