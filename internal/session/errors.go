package session

import "errors"

var (
	// ErrMeetingNotFound is returned when a meeting id resolves to nothing.
	ErrMeetingNotFound = errors.New("meeting not found")

	// ErrSessionNotFound is returned when a session id resolves to nothing.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParticipantNotFound is returned when a participant id or external
	// user id resolves to nothing.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrNoActiveSession is returned by GetActiveSession when neither an
	// in-progress nor a waiting session exists for the pair.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionCompleted is returned for mutations against a session that
	// has already reached its terminal status.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrInvalidIdentity is returned when participant resolution is attempted
	// without a usable external user id. This is fatal to the lobby flow.
	ErrInvalidIdentity = errors.New("invalid participant identity")

	// ErrInvalidTransition is returned for status changes the lifecycle does
	// not permit, e.g. reopening a completed session.
	ErrInvalidTransition = errors.New("invalid status transition")
)
