// Package domain contains the core records of the notebook generation service.
package domain

import "errors"

// Input and lookup errors.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("access denied")
)

// Assessment session errors. An expired session is also not found.
var (
	ErrSessionExpired         = wrap(ErrNotFound, "assessment session has expired")
	ErrSessionAlreadyComplete = errors.New("assessment session already complete")
)

// Planning errors.
var (
	ErrInvalidProfile = errors.New("invalid learner profile")
	ErrPlanningFailed = errors.New("curriculum planning failed")
	ErrInvalidPlan    = errors.New("invalid curriculum plan")
)

// Job consistency errors. ErrJobActive and ErrFenced both wrap ErrConflict.
var (
	ErrConflict  = errors.New("conflict")
	ErrJobActive = wrap(ErrConflict, "job is already being generated")
	ErrFenced    = wrap(ErrConflict, "write rejected for stale or terminal job")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func wrap(kind error, msg string) error { return &kindError{msg: msg, kind: kind} }
