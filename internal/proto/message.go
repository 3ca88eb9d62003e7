package proto

import (
	"encoding/json"
	"fmt"
)

// Broadcast topics.
const (
	TopicUsers = "users"
	TopicRooms = "rooms"
)

// Work queue names.
const (
	QueueEngine  = "engine"
	QueueUsers   = "users"
	QueueRooms   = "rooms"
	QueueChat    = "chat"
	QueueReplies = "replies"
	QueueGateway = "gateway"
)

// Bus names. Workers publish upstream; the engine mirrors everything downstream.
const (
	BusUpstream   = "state.up"
	BusDownstream = "state.down"
)

// InternalCommand is the routed request/reply envelope used between workers.
type InternalCommand struct {
	Identity  string `json:"identity"`
	Command   string `json:"command"`
	Arguments string `json:"arguments"`
}

// Valid reports whether both identity and command are set.
func (m InternalCommand) Valid() bool {
	return m.Identity != "" && m.Command != ""
}

// ClientEnvelope carries one raw client line between the gateway and the engine.
type ClientEnvelope struct {
	Identity string `json:"identity"`
	Body     string `json:"body"`
}

// Valid reports whether the envelope names a connection.
func (m ClientEnvelope) Valid() bool {
	return m.Identity != ""
}

// User is the wire form of a directory entry.
type User struct {
	Login string `json:"login"`
	Room  string `json:"room"`
}

// Room is the wire form of a registry entry.
type Room struct {
	Name           string `json:"name"`
	ConnectedUsers int    `json:"connected_users"`
}

// EncodeCommand serializes an internal command.
func EncodeCommand(m InternalCommand) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeCommand parses an internal command. Missing fields stay empty.
func DecodeCommand(data []byte) (InternalCommand, error) {
	var m InternalCommand
	if err := json.Unmarshal(data, &m); err != nil {
		return InternalCommand{}, fmt.Errorf("decode internal command: %w", err)
	}
	return m, nil
}

// EncodeEnvelope serializes a client envelope.
func EncodeEnvelope(m ClientEnvelope) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeEnvelope parses a client envelope. Missing fields stay empty.
func DecodeEnvelope(data []byte) (ClientEnvelope, error) {
	var m ClientEnvelope
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientEnvelope{}, fmt.Errorf("decode client envelope: %w", err)
	}
	return m, nil
}

// EncodeUsers serializes a users snapshot as a JSON object keyed by identity.
func EncodeUsers(users map[string]User) ([]byte, error) {
	if users == nil {
		users = map[string]User{}
	}
	return json.Marshal(users)
}

// DecodeUsers parses a users snapshot.
func DecodeUsers(data []byte) (map[string]User, error) {
	users := make(map[string]User)
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decode users snapshot: %w", err)
	}
	return users, nil
}

// EncodeRooms serializes a rooms snapshot as a JSON array.
func EncodeRooms(rooms []Room) ([]byte, error) {
	if rooms == nil {
		rooms = []Room{}
	}
	return json.Marshal(rooms)
}

// DecodeRooms parses a rooms snapshot.
func DecodeRooms(data []byte) ([]Room, error) {
	var rooms []Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("decode rooms snapshot: %w", err)
	}
	return rooms, nil
}
