package errors

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrUnauthorized is returned whenever a permission check failed. Every
	// unauthorized operation is written to the audit ledger before this
	// error reaches the caller.
	ErrUnauthorized = Register(2, "unauthorized")

	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = Register(3, "not found")

	// ErrInput is returned on malformed caller input that is not a
	// configuration problem (bad amount string, unknown enum value, etc).
	ErrInput = Register(4, "invalid input")

	// ErrState is returned when an entity is in a state that does not
	// permit the requested transition.
	ErrState = Register(5, "invalid state")

	// ErrType is returned whenever the type is not what was expected.
	ErrType = Register(6, "invalid type")

	// ErrDuplicate is returned when a record with the same unique key
	// already exists.
	ErrDuplicate = Register(7, "duplicate")

	// ErrAmount stands for an invalid amount of whatever.
	ErrAmount = Register(8, "invalid amount")

	// ErrHuman is returned when a code path is reached that should not be
	// reachable if the code was written as intended.
	ErrHuman = Register(9, "coding error")

	// ErrConfiguration is returned on invalid vault or recovery
	// parameters. Caller error, never retried.
	ErrConfiguration = Register(20, "invalid configuration")

	// ErrQuorumNotMet is returned when the set of distinct, active,
	// non-compromised signers is below the threshold required for the
	// requested action.
	ErrQuorumNotMet = Register(21, "quorum not met")

	// ErrAlreadyInEmergency is returned when activating emergency mode on
	// a vault that is already frozen.
	ErrAlreadyInEmergency = Register(22, "already in emergency mode")

	// ErrNotInEmergency is returned when deactivating emergency mode on a
	// vault with no open emergency cycle.
	ErrNotInEmergency = Register(23, "not in emergency mode")

	// ErrEmergencyActive is returned by fund-movement operations while the
	// vault circuit breaker is engaged.
	ErrEmergencyActive = Register(24, "emergency mode active")

	// ErrLockedOut is returned when a signer is temporarily denied after
	// repeated failed attempts.
	ErrLockedOut = Register(25, "signer locked out")

	// ErrDuplicateApproval is returned when an identity approves the same
	// recovery request twice.
	ErrDuplicateApproval = Register(26, "duplicate approval")

	// ErrNotApproved is returned when executing a recovery request that
	// has not crossed its approval threshold.
	ErrNotApproved = Register(27, "recovery not approved")

	// ErrTimelockNotElapsed is returned when executing an approved
	// recovery before its mandatory waiting period has passed.
	ErrTimelockNotElapsed = Register(28, "timelock not elapsed")

	// ErrLedgerUnavailable is returned when the external ledger cannot be
	// reached. Retryable by the caller with backoff.
	ErrLedgerUnavailable = Register(29, "ledger unavailable")

	// ErrConfirmationTimeout is returned when a submitted transfer was not
	// confirmed within the configured window. The transfer may still
	// confirm asynchronously; the caller must re-query balance.
	ErrConfirmationTimeout = Register(30, "confirmation timeout")

	// ErrAuditIntegrity is returned when the audit log checksum chain does
	// not verify. Always surfaced, never auto-corrected.
	ErrAuditIntegrity = Register(31, "audit integrity violation")

	// ErrPanic is only set when we recover from a panic, so we know to
	// redact potentially sensitive system info.
	ErrPanic = Register(111222, "panic")
)

// Register returns an error instance that should be used as the base for
// creating error instances during runtime.
//
// Popular root errors are declared in this package, but extensions may want to
// declare custom codes. This function ensures that no error code is used
// twice. Attempt to reuse an error code results in panic.
//
// Use this function only during a program startup phase.
func Register(code uint32, description string) *Error {
	if e, ok := usedCodes[code]; ok {
		panic(fmt.Sprintf("error with code %d is already registered: %q", code, e.desc))
	}
	err := &Error{
		code: code,
		desc: description,
	}
	usedCodes[err.code] = err
	return err
}

// usedCodes is keeping track of used codes to ensure their uniqueness. No two
// error instances should share the same error code.
var usedCodes = map[uint32]*Error{
	1: nil, // Error code 1 is reserved for errors raised outside of this package.
}

// Error represents a root error.
//
// The custody core uses root errors to categorize issues. Each error instance
// created during runtime should wrap one of the declared root errors. This
// allows error tests with Is and returning all errors to the client in a safe
// manner, with a specific kind the operator can act on: insufficient quorum,
// system unavailable and audit tampering must never be conflated.
type Error struct {
	code uint32
	desc string
}

func (e Error) Error() string {
	return e.desc
}

// Code returns the registered code of this error kind.
func (e Error) Code() uint32 {
	return e.code
}

// Code unwraps the error and returns the code of the root error kind it
// belongs to. Errors of an unregistered kind report code 1.
func Code(err error) uint32 {
	for {
		if e, ok := err.(*Error); ok {
			return e.code
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return 1
		}
	}
}

// New returns a new error. Returned instance is having the root cause set to
// this error. Below two lines are equal
//   e.New("my description")
//   Wrap(e, "my description")
func (e *Error) New(description string) error {
	return Wrap(e, description)
}

// Newf is basically New with formatting capabilities.
func (e *Error) Newf(description string, args ...interface{}) error {
	return e.New(fmt.Sprintf(description, args...))
}

// Is check if given error instance is of a given kind/type. This involves
// unwrapping given error using the Cause method if available.
func (kind *Error) Is(err error) bool {
	// Reflect usage is necessary to correctly compare with
	// a nil implementation of an error.
	if kind == nil {
		if err == nil {
			return true
		}
		return reflect.ValueOf(err).IsNil()
	}

	for {
		if err == kind {
			return true
		}

		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return false
		}
	}
}

// Wrap extends given error with an additional information.
//
// If err is nil, this returns nil, avoiding the need for an if statement when
// wrapping a error returned at the end of a function.
func Wrap(err error, description string) error {
	if err == nil {
		return nil
	}

	// If this error does not carry the stacktrace information yet, attach
	// one. This should be done only once per error at the lowest frame
	// possible (most inner wrap).
	if stackTrace(err) == nil {
		err = errors.WithStack(err)
	}

	return &wrappedError{
		parent: err,
		msg:    description,
	}
}

// Wrapf extends given error with an additional information.
//
// This function works like Wrap function with additional functionality of
// formatting the input as specified.
func Wrapf(err error, format string, args ...interface{}) error {
	desc := fmt.Sprintf(format, args...)
	return Wrap(err, desc)
}

type wrappedError struct {
	// This error layer description.
	msg string
	// The underlying error that triggered this one.
	parent error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg, e.parent.Error())
}

func (e *wrappedError) Cause() error {
	return e.parent
}

// stackTrace returns the first found stack trace frame carried by given error
// or any wrapped error. It returns nil if no stack trace is found.
func stackTrace(err error) errors.StackTrace {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	for {
		if st, ok := err.(stackTracer); ok {
			return st.StackTrace()
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
		} else {
			return nil
		}
	}
}

// Recover captures a panic and stop its propagation. If panic happens it is
// transformed into a ErrPanic instance and assigned to given error. Call this
// function using defer in order to work as expected.
func Recover(err *error) {
	if r := recover(); r != nil {
		*err = Wrapf(ErrPanic, "%v", r)
	}
}

// causer is an interface implemented by an error that supports wrapping. Use
// it to test if an error wraps another error instance.
type causer interface {
	Cause() error
}
