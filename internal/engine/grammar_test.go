package engine

import (
	"testing"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
)

func loggedIn() core.Users {
	return core.Users{
		"a": {Login: "alice", Room: "lobby"},
		"b": {Login: "bob"},
		"n": {},
	}
}

func TestGrammarMatches(t *testing.T) {
	tests := []struct {
		line string
		kind core.CommandKind
		args string
	}{
		{"/join room1\n", core.CommandJoin, "room1"},
		{"/join python\n", core.CommandJoin, "python"},
		{"/join café\n", core.CommandJoin, "café"},
		{"/create 東京_2\n", core.CommandCreateRoom, "東京_2"},
		{"/leave\n", core.CommandLeave, ""},
		{"/quit\n", core.CommandQuit, ""},
		{"/create bugfix\n", core.CommandCreateRoom, "bugfix"},
		{"/rooms\n", core.CommandListRooms, ""},
		{"", core.CommandHardQuit, ""},
	}

	for _, tt := range tests {
		action, ok := Route(loggedIn(), proto.ClientEnvelope{Identity: "b", Body: tt.line})
		if !ok {
			t.Fatalf("%q: no action", tt.line)
		}
		if action.Command.Kind != tt.kind || action.Command.Arguments != tt.args || action.Command.Identity != "b" {
			t.Fatalf("%q: unexpected command %+v", tt.line, action.Command)
		}
	}
}

func TestGrammarRejects(t *testing.T) {
	lines := []string{
		" /join room\n", "/join  room\n", "join room\n", "/join\n", "/join room",
		"/leave", "/leave now\n", " /leave\n",
		"/quit", "/quit now\n",
		"/create\n", "/create two words\n",
		"/rooms", "/rooms x\n",
		"\n", " \n", "random string\n",
	}

	// bob has no room, so every unmatched line falls back to help.
	for _, line := range lines {
		action, ok := Route(loggedIn(), proto.ClientEnvelope{Identity: "b", Body: line})
		if !ok || action.Reply != core.TextHelp {
			t.Fatalf("%q: expected help reply, got %+v (%v)", line, action, ok)
		}
	}
}

func TestHelpCommand(t *testing.T) {
	action, ok := Route(loggedIn(), proto.ClientEnvelope{Identity: "a", Body: "/help\n"})
	if !ok || action.Reply != core.TextHelp {
		t.Fatalf("expected help, got %+v", action)
	}
}

func TestUnknownIdentityIsCreated(t *testing.T) {
	for _, body := range []string{"", "hello\n", "/quit\n"} {
		action, ok := Route(loggedIn(), proto.ClientEnvelope{Identity: "new", Body: body})
		if !ok || action.Command.Kind != core.CommandCreateUser || action.Command.Identity != "new" {
			t.Fatalf("%q: expected create, got %+v", body, action)
		}
	}
}

func TestConfigureStage(t *testing.T) {
	tests := []struct {
		body string
		ok   bool
		kind core.CommandKind
		args string
	}{
		{"login\n", true, core.CommandConfigure, "login"},
		{"randomLogin\n", true, core.CommandConfigure, "randomLogin"},
		{"José\n", true, core.CommandConfigure, "José"},
		{"Zoë_٣\n", true, core.CommandConfigure, "Zoë_٣"},
		{"jo-sé\n", false, 0, ""},
		{"", true, core.CommandHardQuit, ""},
		{"/rooms\n", false, 0, ""},
		{"\n", false, 0, ""},
		{" a\n", false, 0, ""},
		{"a \n", false, 0, ""},
		{"two words\n", false, 0, ""},
	}

	for _, tt := range tests {
		action, ok := Route(loggedIn(), proto.ClientEnvelope{Identity: "n", Body: tt.body})
		if ok != tt.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tt.body, tt.ok, ok)
		}
		if ok && (action.Command.Kind != tt.kind || action.Command.Arguments != tt.args) {
			t.Fatalf("%q: unexpected command %+v", tt.body, action.Command)
		}
	}
}

func TestChatFallback(t *testing.T) {
	tests := []struct {
		body string
		kind core.CommandKind
		args string
		help bool
	}{
		{"Hello\n", core.CommandBroadcast, "Hello", false},
		{"Hello world\n", core.CommandBroadcast, "Hello world", false},
		{"/unknown\n", core.CommandBroadcast, "/unknown", false},
		{"/leave\n", core.CommandLeave, "", false},
		{"\n", 0, "", true},
		{"no newline", 0, "", true},
	}

	for _, tt := range tests {
		action, ok := Route(loggedIn(), proto.ClientEnvelope{Identity: "a", Body: tt.body})
		if !ok {
			t.Fatalf("%q: no action", tt.body)
		}
		if tt.help {
			if action.Reply != core.TextHelp {
				t.Fatalf("%q: expected help, got %+v", tt.body, action)
			}
			continue
		}
		if action.Command.Kind != tt.kind || action.Command.Arguments != tt.args {
			t.Fatalf("%q: unexpected command %+v", tt.body, action.Command)
		}
	}
}
