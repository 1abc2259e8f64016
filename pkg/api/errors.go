package api

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("ticketflow: conflict")

	// ErrInvalidEvent is returned when an event payload fails validation.
	// No run is created for such an event.
	ErrInvalidEvent = errors.New("ticketflow: invalid event")

	// ErrInvalidWorkflow is returned by registration for malformed definitions.
	ErrInvalidWorkflow = errors.New("ticketflow: invalid workflow definition")

	// ErrRegistryFrozen is returned when registering after startup.
	ErrRegistryFrozen = errors.New("ticketflow: workflow registry is frozen")

	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("ticketflow: run not found")

	// ErrWorkflowNotFound is returned when a workflow id is unknown.
	ErrWorkflowNotFound = errors.New("ticketflow: workflow not found")

	// ErrRunLeased is returned when another worker is executing the run.
	ErrRunLeased = errors.New("ticketflow: run is leased by another worker")

	// ErrRetryBudgetExhausted fails a recovered run whose attempts already
	// used up its workflow's budget.
	ErrRetryBudgetExhausted = errors.New("ticketflow: retry budget exhausted")
)

// ConflictError reports a duplicate registration.
type ConflictError struct {
	WorkflowID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ticketflow: workflow %q already registered", e.WorkflowID)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ErrorKind is the retry classification of a failure.
type ErrorKind int

const (
	// KindRetriable failures consume retry budget and are re-attempted.
	KindRetriable ErrorKind = iota
	// KindTerminal failures stop the run immediately.
	KindTerminal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	default:
		return "retriable"
	}
}

// ClassifiedError tags a cause with its retry classification.
type ClassifiedError struct {
	Kind  ErrorKind
	Cause error
}

func (e *ClassifiedError) Error() string {
	if e.Cause == nil {
		return e.Kind.String() + " error"
	}
	return e.Cause.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// Terminal marks err as non-retriable. The run fails immediately without
// consuming retry budget. Terminal(nil) returns nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindTerminal, Cause: err}
}

// Terminalf is shorthand for Terminal(fmt.Errorf(format, args...)).
func Terminalf(format string, args ...any) error {
	return Terminal(fmt.Errorf(format, args...))
}

// Retriable tags err as retriable. Untagged errors are already treated
// as retriable; the tag is useful to override a terminal cause further
// down the chain. Retriable(nil) returns nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: KindRetriable, Cause: err}
}

// Classify returns the kind carried by the outermost tag in err's chain.
// Untagged errors are retriable.
func Classify(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindRetriable
}

// IsTerminal reports whether Classify(err) == KindTerminal.
func IsTerminal(err error) bool {
	return err != nil && Classify(err) == KindTerminal
}
