package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of failure classes the engine surfaces.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindAuth              Kind = "auth_error"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindNetwork           Kind = "network_error"
	KindPartialFailure    Kind = "partial_failure"
	KindServer            Kind = "server_error"
)

type Error struct {
	Kind    Kind
	Code    string // machine code from the backend envelope, e.g. "already_voted"
	Message string // human readable, never raw transport text for 5xx
	Details any
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is lets callers match on kind with errors.Is using the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAuth              = &Error{Kind: KindAuth}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrPartialFailure    = &Error{Kind: KindPartialFailure}
	ErrServer            = &Error{Kind: KindServer}

	// Narrower sentinels that tests and the UI care about.
	ErrDuplicateVote = &Error{Kind: KindConflict, Code: "already_voted"}
)

func Validation(message string, details any) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_request", Message: message, Details: details}
}

func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Code: "unauthorized", Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindAuth, Code: "forbidden", Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Code:    "invalid_transition",
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

func Network(message string, cause error) *Error {
	e := &Error{Kind: KindNetwork, Code: "network_error", Message: message}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// PartialDetail names which half of a two-step terminal commit went through,
// so the caller can retry just the failed half.
type PartialDetail struct {
	IssueResolved       bool `json:"issueResolved"`
	AssignmentCompleted bool `json:"assignmentCompleted"`
}

func Partial(message string, detail PartialDetail) *Error {
	return &Error{Kind: KindPartialFailure, Code: "partial_failure", Message: message, Details: detail}
}

// FromStatus maps a backend HTTP status plus envelope fields into the taxonomy.
// The raw body of a 5xx never becomes the user-facing message.
func FromStatus(status int, code, message string) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindAuth, Code: orDefault(code, "unauthorized"), Message: orDefault(message, "You must sign in again.")}
	case status == http.StatusForbidden:
		return &Error{Kind: KindAuth, Code: orDefault(code, "forbidden"), Message: orDefault(message, "You are not allowed to do that.")}
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Code: orDefault(code, "not_found"), Message: orDefault(message, "Not found.")}
	case status == http.StatusConflict:
		return &Error{Kind: KindConflict, Code: orDefault(code, "conflict"), Message: orDefault(message, "The request conflicts with current state.")}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &Error{Kind: KindValidation, Code: orDefault(code, "invalid_request"), Message: orDefault(message, "Invalid request.")}
	case status >= 500:
		return &Error{Kind: KindServer, Code: "server_error", Message: "The service is having trouble. Try again later."}
	default:
		return &Error{Kind: KindServer, Code: orDefault(code, "unexpected_status"), Message: fmt.Sprintf("Unexpected response (HTTP %d).", status)}
	}
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
