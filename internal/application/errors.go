package application

import "errors"

// Errors returned by the application services. Storage failures surface as
// ports.StoreError values wrapping ports.ErrNotFound or ports.ErrConflict.
var (
	// ErrUnknownDiscipline indicates a discipline code that is not in the
	// catalog.
	ErrUnknownDiscipline = errors.New("unknown discipline")

	// ErrForbidden indicates that the acting user may not perform the
	// operation, e.g. a non-organizer completing a competition.
	ErrForbidden = errors.New("forbidden")

	// ErrCompetitionClosed indicates that a completed competition no longer
	// accepts registrations or results.
	ErrCompetitionClosed = errors.New("competition is closed")

	// ErrNotRegistered indicates that the user is not a participant of the
	// competition.
	ErrNotRegistered = errors.New("user is not registered for the competition")

	// ErrDisciplineNotInCompetition indicates a discipline that exists but
	// is not part of the competition.
	ErrDisciplineNotInCompetition = errors.New("discipline is not part of the competition")

	// ErrInvalidAttemptNumber indicates a scramble attempt number outside
	// 1..attempt count.
	ErrInvalidAttemptNumber = errors.New("invalid attempt number")

	// ErrInvalidRequest indicates malformed input to a service call.
	ErrInvalidRequest = errors.New("invalid request")
)
