// Package users implements the worker owning the canonical user directory.
package users

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
	"github.com/vovakirdan/wirechat-cluster/internal/worker"
)

// Directory is the only writer of the user table. It republishes the whole
// table after every command and keeps a read-only copy of the room list.
type Directory struct {
	rt    *worker.Runtime
	log   *zerolog.Logger
	users core.Users
	rooms core.Rooms
}

// New creates an empty directory served by rt.
func New(rt *worker.Runtime) *Directory {
	return &Directory{
		rt:    rt,
		log:   rt.Logger(),
		users: make(core.Users),
	}
}

// Run blocks serving commands until ctx is cancelled.
func (d *Directory) Run(ctx context.Context) error {
	return d.rt.Run(ctx, d)
}

// HandleCommand applies one command and publishes the resulting table.
func (d *Directory) HandleCommand(ctx context.Context, cmd core.Command) {
	var (
		replies []proto.InternalCommand
		err     error
	)

	switch cmd.Kind {
	case core.CommandCreateUser:
		replies = create(d.users, cmd.Identity)
	case core.CommandConfigure:
		replies, err = configure(d.users, cmd.Identity, cmd.Arguments)
	case core.CommandJoin:
		replies, err = join(d.users, d.rooms, cmd.Identity, cmd.Arguments)
	case core.CommandLeave:
		replies, err = leave(d.users, cmd.Identity)
	case core.CommandQuit:
		replies, err = quit(d.users, cmd.Identity)
	case core.CommandHardQuit:
		replies, err = hardQuit(d.users, cmd.Identity)
	default:
		err = core.BadRequest("unsupported command " + cmd.Kind.String())
	}

	if err != nil {
		d.log.Debug().Err(err).Str("identity", cmd.Identity).Str("command", cmd.Kind.String()).Msg("command rejected")
	}
	d.rt.Reply(ctx, replies...)
	d.share(ctx)
}

// HandleBroadcast replaces the cached room list.
func (d *Directory) HandleBroadcast(_ context.Context, topic string, payload []byte) {
	if topic != proto.TopicRooms {
		return
	}
	rooms, err := proto.DecodeRooms(payload)
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping rooms snapshot")
		return
	}
	d.rooms = core.RoomsFromSnapshot(rooms)
}

func (d *Directory) share(ctx context.Context) {
	data, err := proto.EncodeUsers(d.users.Snapshot())
	if err != nil {
		d.log.Error().Err(err).Msg("encode users snapshot")
		return
	}
	d.rt.Publish(ctx, proto.TopicUsers, data)
}

func create(users core.Users, identity string) []proto.InternalCommand {
	users[identity] = &core.User{}
	return []proto.InternalCommand{core.Send(identity, core.TextWelcome)}
}

func configure(users core.Users, identity, name string) ([]proto.InternalCommand, error) {
	user, ok := users[identity]
	if !ok {
		return nil, core.UnknownUser(identity)
	}
	if name == "" {
		return nil, core.BadRequest("empty login")
	}
	if _, taken := users.LoginUsedBy(name, identity); taken {
		cerr := core.LoginTaken()
		return []proto.InternalCommand{core.Send(identity, cerr.Message)}, cerr
	}
	user.Login = name
	return []proto.InternalCommand{core.Send(identity, core.Format(core.TextWelcomeLogged, name))}, nil
}

func join(users core.Users, rooms core.Rooms, identity, room string) ([]proto.InternalCommand, error) {
	user, ok := users[identity]
	if !ok {
		return nil, core.UnknownUser(identity)
	}
	if !rooms.Has(room) {
		cerr := core.RoomNotFound(room)
		return []proto.InternalCommand{core.Send(identity, cerr.Message)}, cerr
	}

	var out []proto.InternalCommand
	if user.Room != "" && user.Room != room {
		out = append(out, leaveRoom(users, identity, user, true)...)
	}

	others := users.InRoom(room, identity)
	notice := core.Format(core.TextJoined, room, user.Login)
	for _, id := range others {
		out = append(out, core.Send(id, notice))
	}
	out = append(out, core.Send(identity, roster(users, others, room, user)))

	user.Room = room
	return out, nil
}

func roster(users core.Users, others []string, room string, self *core.User) string {
	lines := make([]string, 0, len(others)+1)
	for _, id := range others {
		lines = append(lines, core.Format(core.TextUser, users[id].Login))
	}
	lines = append(lines, core.Format(core.TextYou, self.Login))
	sort.Strings(lines)

	var b strings.Builder
	b.WriteString(core.Format(core.TextEnteringRoom, room))
	for _, line := range lines {
		b.WriteString(line)
	}
	b.WriteString(core.TextEndList)
	return b.String()
}

func leave(users core.Users, identity string) ([]proto.InternalCommand, error) {
	user, ok := users[identity]
	if !ok {
		return nil, core.UnknownUser(identity)
	}
	if user.Room == "" {
		cerr := core.NotInRoom()
		return []proto.InternalCommand{core.Send(identity, cerr.Message)}, cerr
	}
	return leaveRoom(users, identity, user, true), nil
}

// leaveRoom notifies the remaining occupants, optionally confirms to the user,
// and clears the user's room.
func leaveRoom(users core.Users, identity string, user *core.User, confirm bool) []proto.InternalCommand {
	room := user.Room
	notice := core.Format(core.TextLeavingRoom, room, user.Login)

	var out []proto.InternalCommand
	for _, id := range users.InRoom(room, identity) {
		out = append(out, core.Send(id, notice))
	}
	if confirm {
		out = append(out, core.Send(identity, core.Format(core.TextYouLeftRoom, room, user.Login)))
	}
	user.Room = ""
	return out
}

func quit(users core.Users, identity string) ([]proto.InternalCommand, error) {
	user, ok := users[identity]
	if !ok {
		return nil, core.UnknownUser(identity)
	}
	var out []proto.InternalCommand
	if user.Room != "" {
		out = leaveRoom(users, identity, user, true)
	}
	out = append(out, core.Send(identity, core.TextQuit), core.Close(identity))
	delete(users, identity)
	return out, nil
}

func hardQuit(users core.Users, identity string) ([]proto.InternalCommand, error) {
	user, ok := users[identity]
	if !ok {
		return nil, core.UnknownUser(identity)
	}
	var out []proto.InternalCommand
	if user.Room != "" {
		out = leaveRoom(users, identity, user, false)
	}
	delete(users, identity)
	return out, nil
}
