package session

import (
	"errors"

	"github.com/atinyakov/carpool/internal/client/api"
)

// ErrNoToken is returned by FetchMe and Refresh when no token record is
// stored.
var ErrNoToken = errors.New("session: no stored token")

// AuthenticationError reports rejected credentials.
type AuthenticationError struct {
	Detail string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Detail != "" {
		return "authentication failed: " + e.Detail
	}
	return "authentication failed"
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ValidationError reports a rejected registration. Fields maps input names
// to server messages.
type ValidationError struct {
	Fields map[string][]string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	switch {
	case len(e.Fields) > 0:
		return "registration rejected: " + api.FormatFields(e.Fields)
	case e.Detail != "":
		return "registration rejected: " + e.Detail
	default:
		return "registration rejected"
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }
