package hub

import "errors"

var (
	errInvalidUsername = errors.New("hub: username must match ^[A-Za-z0-9_]{3,32}$")
	errUsernameTaken    = errors.New("hub: username already registered")
)
