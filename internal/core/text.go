package core

import "strings"

// Client-facing texts. Placeholders are {0}, {1}.
const (
	TextWelcome       = "<= Welcome to the XYZ chat server\n<= Login Name ?\n"
	TextLoginTaken    = "<= Sorry, name taken.\n"
	TextWelcomeLogged = "<= Welcome {0}!\n"
	TextEnteringRoom  = "<= entering room: {0}\n"
	TextJoined        = "<= * new user joined {0}: {1}\n"
	TextLeavingRoom   = "<= * user has left {0}: {1}\n"
	TextYouLeftRoom   = "<= * user has left {0}: {1} (** this is you)\n"
	TextEndList       = "<= end of list.\n"
	TextUser          = "<= * {0}\n"
	TextYou           = "<= * {0} (** this is you)\n"
	TextQuit          = "<= BYE\n"
	TextRoomNotFound  = "<= Room: {0} not found\n"
	TextRoomNotJoined = "<= You are not in a room\n"

	TextActiveRooms = "<= Active rooms are:\n"
	TextRoom        = "<= * {0} ({1})\n"
	TextRoomCreated = "<= Room: {0} created\n"
	TextRoomExists  = "<= Room: {0} already exist\n"

	TextChat = "<= {0}: {1}\n"

	TextHelp = "<= Commands: /rooms, /join, /create, /leave, /quit, /help\n"
)

var placeholders = []string{"{0}", "{1}"}

// Format substitutes args into the positional placeholders of tmpl.
func Format(tmpl string, args ...string) string {
	pairs := make([]string, 0, 2*len(args))
	for i, arg := range args {
		if i >= len(placeholders) {
			break
		}
		pairs = append(pairs, placeholders[i], arg)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
