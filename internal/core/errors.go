package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeNotInRoom    = "not_in_room"
	ErrCodeRoomExists   = "room_exists"
	ErrCodeLoginTaken   = "login_taken"
	ErrCodeUnknownUser  = "unknown_user"
	ErrCodeBadRequest   = "bad_request"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("not in room")
	ErrRoomExists   = errors.New("room already exists")
	ErrLoginTaken   = errors.New("login already used")
	ErrUnknownUser  = errors.New("unknown user")
	ErrBadRequest   = errors.New("bad request")
)

var codeErrors = map[string]error{
	ErrCodeRoomNotFound: ErrRoomNotFound,
	ErrCodeNotInRoom:    ErrNotInRoom,
	ErrCodeRoomExists:   ErrRoomExists,
	ErrCodeLoginTaken:   ErrLoginTaken,
	ErrCodeUnknownUser:  ErrUnknownUser,
	ErrCodeBadRequest:   ErrBadRequest,
}

// CoreError wraps a code and the text shown to the client.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap maps the code onto its sentinel so errors.Is works.
func (e *CoreError) Unwrap() error {
	return codeErrors[e.Code]
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// RoomNotFound reports a join to a room the registry does not know.
func RoomNotFound(room string) *CoreError {
	return coreError(ErrCodeRoomNotFound, Format(TextRoomNotFound, room))
}

// NotInRoom reports a leave from a user without a room.
func NotInRoom() *CoreError {
	return coreError(ErrCodeNotInRoom, TextRoomNotJoined)
}

// RoomExists reports a duplicate room name.
func RoomExists(room string) *CoreError {
	return coreError(ErrCodeRoomExists, Format(TextRoomExists, room))
}

// LoginTaken reports a login already held by someone else.
func LoginTaken() *CoreError {
	return coreError(ErrCodeLoginTaken, TextLoginTaken)
}

// UnknownUser reports a command for an identity missing from the directory.
// It has no client-facing text.
func UnknownUser(identity string) *CoreError {
	return coreError(ErrCodeUnknownUser, identity)
}

// BadRequest reports a request dropped without a reply.
func BadRequest(reason string) *CoreError {
	return coreError(ErrCodeBadRequest, reason)
}
