package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo"
)

// Kind classifies errors crossing a service boundary so handlers can map them
// to a transport code without matching on message strings.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindState         Kind = "STATE"
	KindNotFound      Kind = "NOT_FOUND"
	KindUpstream      Kind = "UPSTREAM"
)

// Error is a classified error with a user-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed or missing input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Authorization reports that the actor lacks rights for the requested operation.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

// State reports an operation that is illegal in the entity's current state.
func State(message string) *Error {
	return &Error{Kind: KindState, Message: message}
}

// NotFound reports an absent referenced entity.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Upstream wraps a failure of an external collaborator (database, object
// store, broker).
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

// KindOf reports the classification of any error chain. mongo.ErrNoDocuments
// counts as NOT_FOUND; anything unclassified counts as UPSTREAM.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return KindNotFound
	}
	return KindUpstream
}

// UserMessage returns the short message to surface to the caller. Upstream
// failures surface their raw error text.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "not found"
	}
	return err.Error()
}

// HTTPStatus maps an error chain to the status used by the REST surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
