package server

import "errors"

// Application-level error kinds. They map onto the client-visible result
// texts; the connection stays open when any of these occur.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyLoggedIn    = errors.New("already logged in")
	ErrUsernameTaken      = errors.New("username exists")
	ErrGroupExists        = errors.New("group already exists")
	ErrGroupNotFound      = errors.New("group not found")
	ErrWrongPIN           = errors.New("incorrect pin")
	ErrAlreadyMember      = errors.New("already a member")
	ErrNotCreator         = errors.New("not the group creator")
	ErrUserNotFound       = errors.New("user not found")
)
