package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures seen between a client and the venue.
type ErrorKind string

const (
	KindTransport  ErrorKind = "transport"  // venue unreachable or timed out
	KindUpstream   ErrorKind = "upstream"   // non-2xx status or venue error body
	KindValidation ErrorKind = "validation" // inbound command missing/invalid fields
	KindParse      ErrorKind = "parse"      // malformed inbound or upstream JSON
	KindAuth       ErrorKind = "auth"       // access token could not be obtained
)

// Error is a classified failure. Op names the venue method or command.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("status %d: %s", e.Status, msg)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind only, so errors.Is(err, &Error{Kind: KindAuth}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsUnauthorized reports an HTTP 401 anywhere in err's chain.
func IsUnauthorized(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Status == http.StatusUnauthorized {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
