package core

import "github.com/vovakirdan/wirechat-cluster/internal/proto"

// CommandKind identifies the handler an internal command is routed to.
type CommandKind int

const (
	// CommandUnknown is any wire name no worker handles.
	CommandUnknown CommandKind = iota

	// CommandCreateUser registers a new connection in the users directory.
	CommandCreateUser
	// CommandConfigure sets the login of a connection.
	CommandConfigure
	// CommandJoin moves a user into a room.
	CommandJoin
	// CommandLeave removes a user from its room.
	CommandLeave
	// CommandQuit says goodbye and asks the gateway to close the connection.
	CommandQuit
	// CommandHardQuit cleans up after a connection that is already gone.
	CommandHardQuit

	// CommandCreateRoom adds a room to the registry.
	CommandCreateRoom
	// CommandListRooms renders the room list.
	CommandListRooms

	// CommandBroadcast relays a chat line to the sender's room.
	CommandBroadcast

	// CommandSend pushes text to a client connection.
	CommandSend
	// CommandClose terminates a client connection.
	CommandClose
)

// Commands sharing a wire name are told apart by the queue they travel on.
var commandNames = map[CommandKind]string{
	CommandCreateUser: "create",
	CommandConfigure:  "configure",
	CommandJoin:       "join",
	CommandLeave:      "leave",
	CommandQuit:       "quit",
	CommandHardQuit:   "hard_quit",
	CommandCreateRoom: "create",
	CommandListRooms:  "list",
	CommandBroadcast:  "broadcast",
	CommandSend:       "send",
	CommandClose:      "close",
}

// String returns the wire name of the kind.
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// Queue returns the work queue serving the kind.
func (k CommandKind) Queue() string {
	switch k {
	case CommandCreateUser, CommandConfigure, CommandJoin, CommandLeave, CommandQuit, CommandHardQuit:
		return proto.QueueUsers
	case CommandCreateRoom, CommandListRooms:
		return proto.QueueRooms
	case CommandBroadcast:
		return proto.QueueChat
	case CommandSend, CommandClose:
		return proto.QueueGateway
	default:
		return ""
	}
}

// ParseCommand resolves a wire name received on queue into a kind.
func ParseCommand(queue, name string) CommandKind {
	for kind, n := range commandNames {
		if n == name && kind.Queue() == queue {
			return kind
		}
	}
	return CommandUnknown
}

// Command is a decoded internal command.
type Command struct {
	Kind      CommandKind
	Identity  string
	Arguments string
}

// Wire converts the command into its envelope.
func (c Command) Wire() proto.InternalCommand {
	return proto.InternalCommand{
		Identity:  c.Identity,
		Command:   c.Kind.String(),
		Arguments: c.Arguments,
	}
}

// Send builds a gateway directive writing text to identity.
func Send(identity, text string) proto.InternalCommand {
	return Command{Kind: CommandSend, Identity: identity, Arguments: text}.Wire()
}

// Close builds a gateway directive closing identity's connection.
func Close(identity string) proto.InternalCommand {
	return Command{Kind: CommandClose, Identity: identity}.Wire()
}
