package couch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an error reported by CouchDB.
type ErrorKind int

const (
	// ErrOther covers any non-2xx status without a dedicated kind.
	ErrOther ErrorKind = iota
	ErrNotModified
	ErrBadRequest
	ErrNotFound
	ErrMethodNotAllowed
	ErrConflict
	ErrPreconditionFailed
	ErrInternalServerError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotModified:
		return "not_modified"
	case ErrBadRequest:
		return "bad_request"
	case ErrNotFound:
		return "not_found"
	case ErrMethodNotAllowed:
		return "method_not_allowed"
	case ErrConflict:
		return "conflict"
	case ErrPreconditionFailed:
		return "precondition_failed"
	case ErrInternalServerError:
		return "internal_server_error"
	}
	return "other"
}

// Error describes a request that CouchDB rejected. It retains the raw
// status, response headers and body for diagnostic display, plus the
// shortform error type and reason if the body contained them.
type Error struct {
	Kind   ErrorKind
	Status int
	Header http.Header
	Body   []byte
	Type   string // e.g. "not_found"
	Reason string
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("couch: %s (%s)", e.Type, e.Reason)
	}
	return fmt.Sprintf("couch: status %d (%s)", e.Status, e.Kind)
}

// TransportError reports that the database was unreachable. It is never
// derived from an HTTP status, so callers can tell "the database rejected
// this" from "the database could not be reached".
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("couch: transport: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classify maps a non-2xx response to an Error per the CouchDB API.
// 5xx always maps to ErrInternalServerError, everything unlisted to ErrOther.
func classify(status int, header http.Header, body []byte) *Error {
	e := &Error{Status: status, Header: header, Body: body}
	switch {
	case status == 304:
		e.Kind = ErrNotModified
	case status == 400:
		e.Kind = ErrBadRequest
	case status == 404:
		e.Kind = ErrNotFound
	case status == 405:
		e.Kind = ErrMethodNotAllowed
	case status == 409:
		e.Kind = ErrConflict
	case status == 412:
		e.Kind = ErrPreconditionFailed
	case status >= 500 && status <= 599:
		e.Kind = ErrInternalServerError
	}
	var parsed struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Type, e.Reason = parsed.Error, parsed.Reason
	}
	if e.Type == "" {
		e.Type = e.Kind.String()
	}
	return e
}

// rowError builds an Error for an element-level failure reported inside an
// otherwise successful response body, e.g. a view row or bulk result entry.
// CouchDB names these by shortform only, so the status is recovered from it.
func rowError(errType, reason string) *Error {
	e := classify(statusForErrorType(errType), nil, nil)
	e.Type = errType
	e.Reason = reason
	return e
}

func statusForErrorType(errType string) int {
	switch errType {
	case "not_found":
		return 404
	case "conflict":
		return 409
	}
	return 400
}

// badRequestf reports a precondition violation detected client-side, before
// any request is made, using the same taxonomy as server-reported errors.
func badRequestf(format string, args ...interface{}) *Error {
	return &Error{
		Kind:   ErrBadRequest,
		Status: http.StatusBadRequest,
		Type:   "bad_request",
		Reason: fmt.Sprintf(format, args...),
	}
}

// kindOf returns the ErrorKind of err, or ErrOther with ok=false if err
// did not originate from CouchDB.
func kindOf(err error) (ErrorKind, bool) {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}
	return ErrOther, false
}

// ErrorType returns the shortform error type (e.g. bad_request) if the error
// originated from CouchDB, or an empty string otherwise.
func ErrorType(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Type
	}
	return ""
}

// IsNotFound reports whether err is a CouchDB not-found error.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrNotFound
}

// IsConflict reports whether err is a CouchDB revision conflict.
func IsConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrConflict
}

// IsNotModified reports whether err signals an unchanged resource on a
// conditional request.
func IsNotModified(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrNotModified
}

// IsPreconditionFailed reports whether err is a CouchDB precondition
// failure, e.g. creating a database that already exists.
func IsPreconditionFailed(err error) bool {
	k, ok := kindOf(err)
	return ok && k == ErrPreconditionFailed
}

// IsTransportError reports whether err means the database was unreachable.
func IsTransportError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}
