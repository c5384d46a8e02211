package errors

import (
	// Go internal packages
	"encoding/json"
	"errors"
	"strings"
)

// Error defines a standard application error.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Wrapped underlying error.
	WrappedErr error `json:"-"`
}

// Error returns "<kind>: <message>: <wrapped>", skipping empty parts.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Kind != Other {
		parts = append(parts, e.Kind.String())
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.WrappedErr != nil {
		parts = append(parts, e.WrappedErr.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.WrappedErr
}

// NewError returns standard go error with given string
func NewError(e string) error {
	return errors.New(e)
}

// Kind defines the kind or class of an error.
type Kind uint8

// Transport agnostic error "kinds"
const (
	Other                 Kind = iota // Unclassified error
	Internal                          // Internal error
	Conflict                          // Conflict when an entity already exists or a version moved
	Invalid                           // Invalid input, validation error etc
	NotFound                          // Entity does not exist
	Unauthorized                      // Unauthorized access
	Forbidden                         // Forbidden access
	InvalidTransition                 // Illegal payment state change
	DependencyUnavailable             // Commission lookup or processor unreachable
	ValidationFailure                 // Reconciliation could not read the data it needs
	NotificationFailure               // Post-commit notification could not be delivered
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "unclassified error"
	case Internal:
		return "internal error"
	case Conflict:
		return "conflict"
	case Invalid:
		return "invalid input"
	case NotFound:
		return "entity not found"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case InvalidTransition:
		return "invalid transition"
	case DependencyUnavailable:
		return "dependency unavailable"
	case ValidationFailure:
		return "validation failure"
	case NotificationFailure:
		return "notification failure"
	default:
		return "unknown error kind"
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case error:
			e.WrappedErr = arg
		case string:
			e.Message = arg
		}
	}
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain, or Other.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return Other
		}
		if e.Kind != Other {
			return e.Kind
		}
		err = e.WrappedErr
	}
	return Other
}

// Message returns the message of the outermost *Error in err's chain.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	As = errors.As
	Is = errors.Is
)
