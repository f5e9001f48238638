// Package oautherr defines the error taxonomy shared by the OAuth state and
// token lifecycle packages. Callers branch on Kind instead of matching strings.
package oautherr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an OAuth lifecycle failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvalidState
	KindInvalidRedirect
	KindMissingConfig
	KindReauthRequired
	KindRateLimited
	KindDependency
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidRedirect:
		return "invalid_redirect"
	case KindMissingConfig:
		return "missing_config"
	case KindReauthRequired:
		return "reauth_required"
	case KindRateLimited:
		return "rate_limited"
	case KindDependency:
		return "dependency"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the tagged error returned across the OAuth core.
type Error struct {
	Kind    Kind
	Op      string
	Message string

	// Allowed and Rejected are only set for KindInvalidRedirect.
	Allowed  []string
	Rejected string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, ErrReauthRequired) works
// for any reauthorization failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidRedirect = &Error{Kind: KindInvalidRedirect}
	ErrMissingConfig   = &Error{Kind: KindMissingConfig}
	ErrReauthRequired  = &Error{Kind: KindReauthRequired}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrDependency      = &Error{Kind: KindDependency}
	ErrNotFound        = &Error{Kind: KindNotFound}
)

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

// InvalidState never says which check failed.
func InvalidState(op string) *Error {
	return New(KindInvalidState, op, "invalid or expired state")
}

func InvalidRedirect(op, rejected string, allowed []string) *Error {
	return &Error{
		Kind:     KindInvalidRedirect,
		Op:       op,
		Message:  "invalid redirect URI",
		Allowed:  append([]string(nil), allowed...),
		Rejected: rejected,
	}
}

func MissingConfig(op, message string) *Error {
	return New(KindMissingConfig, op, message)
}

func ReauthRequired(op string, err error) *Error {
	return &Error{Kind: KindReauthRequired, Op: op, Message: "reauthorization required", Err: err}
}

func RateLimited(op, message string) *Error {
	return New(KindRateLimited, op, message)
}

func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Message: "dependency error", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func IsReauthRequired(err error) bool {
	return KindOf(err) == KindReauthRequired
}

func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

func IsDependency(err error) bool {
	return KindOf(err) == KindDependency
}
