package core

import "github.com/vovakirdan/wirechat-cluster/internal/proto"

// Room is a named channel users can join.
type Room struct {
	Name           string
	ConnectedUsers int
}

// Rooms is the ordered room list, in creation order.
type Rooms []Room

// Has reports whether a room called name exists.
func (r Rooms) Has(name string) bool {
	for _, room := range r {
		if room.Name == name {
			return true
		}
	}
	return false
}

// Recount returns a copy of r with occupancy rebuilt from users.
func (r Rooms) Recount(users Users) Rooms {
	index := make(map[string]int, len(r))
	out := make(Rooms, len(r))
	for i, room := range r {
		out[i] = Room{Name: room.Name}
		index[room.Name] = i
	}
	for _, user := range users {
		if i, ok := index[user.Room]; ok {
			out[i].ConnectedUsers++
		}
	}
	return out
}

// Snapshot converts the list into its wire form.
func (r Rooms) Snapshot() []proto.Room {
	out := make([]proto.Room, len(r))
	for i, room := range r {
		out[i] = proto.Room{Name: room.Name, ConnectedUsers: room.ConnectedUsers}
	}
	return out
}

// RoomsFromSnapshot rebuilds a list from its wire form.
func RoomsFromSnapshot(snapshot []proto.Room) Rooms {
	out := make(Rooms, len(snapshot))
	for i, room := range snapshot {
		out[i] = Room{Name: room.Name, ConnectedUsers: room.ConnectedUsers}
	}
	return out
}
