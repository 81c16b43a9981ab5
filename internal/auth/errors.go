package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("resource conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnavailable        = errors.New("credential store unavailable")
)

// Codec failures. Callers at the edge translate these into gate rejections.
var (
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenMalformed = errors.New("auth: token malformed or signature invalid")
)

// Gate rejections. Each unwraps to ErrUnauthenticated and carries the text shown to clients.
var (
	ErrMissingToken      error = &rejection{msg: "authentication required"}
	ErrSessionExpired    error = &rejection{msg: "session expired, please re-authenticate"}
	ErrBadToken          error = &rejection{msg: "invalid credentials"}
	ErrSessionSuperseded error = &rejection{msg: "session superseded, please re-authenticate"}
)

type rejection struct {
	msg string
}

func (r *rejection) Error() string { return r.msg }

func (r *rejection) Unwrap() error { return ErrUnauthenticated }
