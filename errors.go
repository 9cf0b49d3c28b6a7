package qdisc

// errors.go gathers the error values reported by queue disciplines.
// Drops carry one of these (possibly wrapped) as their reason, so callers
// can sort them with errors.Is

import (
	"errors"
	"fmt"
	"strings"
)

// Errors raised while a discipline is operating on items
var (
	// ErrAdmissionRejected means the projected occupancy would exceed the configured limit (forced drop)
	ErrAdmissionRejected = errors.New("admission rejected, queue limit exceeded")

	// ErrClassificationFailed means no filter of the chain, or no registered class, matched the item
	ErrClassificationFailed = errors.New("no class matches the item")

	// ErrMarkingIneligible means a mark was called for but the packet is not ECT(1).
	// The packet is forwarded unmarked.
	ErrMarkingIneligible = errors.New("packet is not ECN capable (ECT1), marking skipped")

	// ErrTypeMismatch means the item cannot be read as a network-layer packet
	ErrTypeMismatch = errors.New("item is not a network-layer packet")

	// ErrEmptyItem means a scheduler was offered an item of no length.  It is counted as a type mismatch
	ErrEmptyItem = fmt.Errorf("%w: item has no length", ErrTypeMismatch)
)

// Errors raised while assembling and checking a discipline, before it is started
var (
	// ErrMisconfigured reports a structural problem, e.g. a FIFO discipline without exactly one internal queue
	ErrMisconfigured = errors.New("queue discipline misconfigured")

	// ErrUnknownQdisc is returned by the factory for an unregistered discipline type
	ErrUnknownQdisc = errors.New("unknown queue discipline type")

	// ErrDuplicateClass is returned when a class id is registered twice on one discipline
	ErrDuplicateClass = errors.New("class id already registered")

	// ErrAlreadyStarted is returned when configuration is changed after Start
	ErrAlreadyStarted = errors.New("queue discipline already started")
)

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// misconfigured wraps ErrMisconfigured with a description of the problem
func misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMisconfigured, fmt.Sprintf(format, args...))
}
