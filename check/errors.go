package check

import (
	"errors"
	"fmt"

	"github.com/davidnuzik/navcheck/api"
)

var (
	// ErrSessionStart matches every error returned when a launcher could not
	// produce a session.
	ErrSessionStart = errors.New("browser session failed to start")
	// ErrTimeout is returned by WaitFor when the element never showed up.
	ErrTimeout = errors.New("timed out")
	// ErrInvalidCheck is returned for checks that can't be run at all.
	ErrInvalidCheck = errors.New("invalid check")
)

// SessionStartError is returned when a launcher fails. It is fatal for the
// check and never retried.
type SessionStartError struct {
	Launcher string
	Err      error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("starting %s session: %v", e.Launcher, e.Err)
}

func (e *SessionStartError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSessionStart) match.
func (e *SessionStartError) Is(target error) bool { return target == ErrSessionStart }

// AssertionError reports a post-condition that did not hold. It is a test
// failure, as opposed to a fault in the run.
type AssertionError struct {
	Step     string
	Message  string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: %s: expected %q, got %q", e.Step, e.Message, e.Expected, e.Actual)
}

// Outcome is the verdict of one check run.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeFail  Outcome = "fail"
	OutcomeError Outcome = "error"
)

// Classify maps the error that ended a run to its outcome. Assertion,
// lookup and wait failures fail the check; anything else is an error.
func Classify(err error) Outcome {
	var ae *AssertionError
	switch {
	case err == nil:
		return OutcomePass
	case errors.As(err, &ae),
		errors.Is(err, api.ErrElementNotFound),
		errors.Is(err, ErrTimeout):
		return OutcomeFail
	default:
		return OutcomeError
	}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidCheck, fmt.Sprintf(format, args...))
}
