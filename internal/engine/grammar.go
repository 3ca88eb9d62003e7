package engine

import (
	"regexp"

	"github.com/vovakirdan/wirechat-cluster/internal/core"
	"github.com/vovakirdan/wirechat-cluster/internal/proto"
)

// rule maps a line pattern either to an internal command or to a direct reply.
// The first capture group, if any, becomes the command arguments.
type rule struct {
	pattern *regexp.Regexp
	kind    core.CommandKind
	reply   string
}

// word matches a login or room name: letters, digits and underscores in any script.
const word = `([\p{L}\p{N}_]+)`

// Lines include their trailing newline; an empty line is a disconnect.
var (
	grammar = []rule{
		{pattern: regexp.MustCompile(`^/join ` + word + `\n$`), kind: core.CommandJoin},
		{pattern: regexp.MustCompile(`^/leave\n$`), kind: core.CommandLeave},
		{pattern: regexp.MustCompile(`^/quit\n$`), kind: core.CommandQuit},
		{pattern: regexp.MustCompile(`^/create ` + word + `\n$`), kind: core.CommandCreateRoom},
		{pattern: regexp.MustCompile(`^/rooms\n$`), kind: core.CommandListRooms},
		{pattern: regexp.MustCompile(`^$`), kind: core.CommandHardQuit},
		{pattern: regexp.MustCompile(`^/help\n$`), reply: core.TextHelp},
	}

	configureRule  = rule{pattern: regexp.MustCompile(`^` + word + `\n$`), kind: core.CommandConfigure}
	disconnectRule = rule{pattern: regexp.MustCompile(`^$`), kind: core.CommandHardQuit}
	chatRule       = rule{pattern: regexp.MustCompile(`^(.+)\n$`), kind: core.CommandBroadcast}
	helpRule       = rule{reply: core.TextHelp}
)

// Action is what the engine does with one client line.
type Action struct {
	// Command is forwarded to Command.Kind.Queue() unless Kind is CommandUnknown.
	Command core.Command
	// Reply is sent straight back to the client when not empty.
	Reply string
}

func (r rule) apply(identity, body string) (Action, bool) {
	if r.pattern == nil {
		return Action{Reply: r.reply}, true
	}
	groups := r.pattern.FindStringSubmatch(body)
	if groups == nil {
		return Action{}, false
	}
	if r.reply != "" {
		return Action{Reply: r.reply}, true
	}
	cmd := core.Command{Kind: r.kind, Identity: identity}
	if len(groups) > 1 {
		cmd.Arguments = groups[1]
	}
	return Action{Command: cmd}, true
}

// Route decides what to do with env given the current users snapshot.
// It returns false when the line is consumed without any effect.
func Route(users core.Users, env proto.ClientEnvelope) (Action, bool) {
	user, known := users[env.Identity]
	if !known {
		return Action{Command: core.Command{Kind: core.CommandCreateUser, Identity: env.Identity}}, true
	}

	if user.Login == "" {
		if action, ok := disconnectRule.apply(env.Identity, env.Body); ok {
			return action, true
		}
		return configureRule.apply(env.Identity, env.Body)
	}

	for _, r := range grammar {
		if action, ok := r.apply(env.Identity, env.Body); ok {
			return action, true
		}
	}

	if user.Room != "" {
		if action, ok := chatRule.apply(env.Identity, env.Body); ok {
			return action, true
		}
	}
	return helpRule.apply(env.Identity, env.Body)
}
