package core

import (
	"sort"

	"github.com/vovakirdan/wirechat-cluster/internal/proto"
)

// User is a connected client as seen by the directory.
// An empty Login means the connection has not picked a name yet,
// an empty Room means the user is not in any room.
type User struct {
	Login string
	Room  string
}

// Users maps connection identities to users.
type Users map[string]*User

// Identities returns all identities in ascending order.
func (u Users) Identities() []string {
	ids := make([]string, 0, len(u))
	for id := range u {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InRoom returns the identities whose room is room, sorted, skipping except.
func (u Users) InRoom(room, except string) []string {
	ids := make([]string, 0)
	for _, id := range u.Identities() {
		if id == except {
			continue
		}
		if u[id].Room == room {
			ids = append(ids, id)
		}
	}
	return ids
}

// LoginUsedBy returns the identity holding login other than except, if any.
func (u Users) LoginUsedBy(login, except string) (string, bool) {
	for id, user := range u {
		if id != except && user.Login == login {
			return id, true
		}
	}
	return "", false
}

// Snapshot converts the table into its wire form.
func (u Users) Snapshot() map[string]proto.User {
	out := make(map[string]proto.User, len(u))
	for id, user := range u {
		out[id] = proto.User{Login: user.Login, Room: user.Room}
	}
	return out
}

// UsersFromSnapshot rebuilds a table from its wire form.
func UsersFromSnapshot(snapshot map[string]proto.User) Users {
	out := make(Users, len(snapshot))
	for id, user := range snapshot {
		out[id] = &User{Login: user.Login, Room: user.Room}
	}
	return out
}
