// Package apierr defines the typed error taxonomy the HTTP handler layer
// translates into status codes: parse/validation failures, auth failures,
// not-found, limit-exceeded, duplicate, and upstream failures.
package apierr

import "net/http"

// Kind identifies which taxonomy bucket an Error belongs to.
type Kind int

const (
	KindParse Kind = iota
	KindAuth
	KindNotFound
	KindLimitExceeded
	KindDuplicate
	KindUpstream
)

// Error is a typed API error carrying both a machine-readable Kind and a
// human-readable message, the same "typed error enum that knows its own
// response" shape original_source's AuthError/ListError enums use.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// StatusCode maps Kind to the HTTP status the handler layer writes.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindParse:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindLimitExceeded:
		return http.StatusBadRequest
	case KindDuplicate:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func Parse(msg string) *Error         { return &Error{Kind: KindParse, Message: msg} }
func Auth(msg string) *Error          { return &Error{Kind: KindAuth, Message: msg} }
func NotFound(msg string) *Error      { return &Error{Kind: KindNotFound, Message: msg} }
func LimitExceeded(msg string) *Error { return &Error{Kind: KindLimitExceeded, Message: msg} }
func Duplicate(msg string) *Error     { return &Error{Kind: KindDuplicate, Message: msg} }
func Upstream(msg string) *Error      { return &Error{Kind: KindUpstream, Message: msg} }
