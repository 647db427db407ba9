package service

import (
	"errors"
	"fmt"
)

// HistoryKind names which ledger an operation targets
type HistoryKind string

const (
	KindDHP  HistoryKind = "dhp"
	KindPlan HistoryKind = "plan"
)

var (
	// ErrMissingAlias the DHP document carries no patient alias
	ErrMissingAlias = errors.New("dhp document must contain a patient alias")

	// ErrInvalidSteps rollback step count is not positive
	ErrInvalidSteps = errors.New("rollback steps must be a positive number")

	// ErrPatientNotFound the target patient does not exist (or has no
	// record of the requested kind)
	ErrPatientNotFound = errors.New("patient not found")
)

// InsufficientHistoryError rollback requested deeper than the retained
// history allows. Available is the number of previous versions the
// patient actually has, so callers can report it.
type InsufficientHistoryError struct {
	Kind      HistoryKind
	Patient   string
	Requested int
	Available int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("cannot roll back %s by %d step(s): patient %q only has %d previous version(s)",
		e.Kind, e.Requested, e.Patient, e.Available)
}
