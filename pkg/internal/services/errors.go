package services

import "errors"

// Stable error taxonomy surfaced to HTTP and signaling callers.
var (
	ErrAlreadyInCall = errors.New("already in an ongoing call")
	ErrCallNotFound  = errors.New("call not found")
	ErrCallNotActive = errors.New("call is not active")
	ErrNotInvited    = errors.New("not invited to this call")
	ErrSelfInvite    = errors.New("cannot invite yourself to a call")
	ErrNotInCall     = errors.New("not a participant of this call")
	ErrMediaRelay    = errors.New("remote media relay error")
)
