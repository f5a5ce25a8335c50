package remote

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure coming out of the remote pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationRequired
	KindRemoteValidation
	KindNetwork
	KindJobFailed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "authentication-required"
	case KindRemoteValidation:
		return "remote-validation"
	case KindNetwork:
		return "network"
	case KindJobFailed:
		return "job-failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure. Code and Message are only
// meaningful for KindRemoteValidation and KindJobFailed.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired}
	ErrRemoteValidation       = &Error{Kind: KindRemoteValidation}
	ErrNetwork                = &Error{Kind: KindNetwork}
	ErrJobFailed              = &Error{Kind: KindJobFailed}
	ErrCancelled              = &Error{Kind: KindCancelled}
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindRemoteValidation:
		return fmt.Sprintf("remote: validation error %d: %s", e.Code, e.Message)
	case KindJobFailed:
		return fmt.Sprintf("remote: job failed: %s", e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("remote: %s: %v", e.Kind, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
	}
	return "remote: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// AuthenticationRequired wraps cause as an authentication failure.
func AuthenticationRequired(cause error) error {
	return &Error{Kind: KindAuthenticationRequired, Err: cause}
}

// RemoteValidation reports a request the remote side rejected.
func RemoteValidation(code int, message string) error {
	return &Error{Kind: KindRemoteValidation, Code: code, Message: message}
}

// Network wraps a transport-level or server-side failure.
func Network(cause error) error {
	return &Error{Kind: KindNetwork, Err: cause}
}

// JobFailed reports a remote job that ended in the failed state.
func JobFailed(message string) error {
	return &Error{Kind: KindJobFailed, Message: message}
}

// Cancelled wraps a context cancellation.
func Cancelled(cause error) error {
	return &Error{Kind: KindCancelled, Err: cause}
}

// KindOf classifies err. Bare context errors count as cancellation.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// UserMessage turns err into text suitable for an error dialog.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var re *Error
	errors.As(err, &re)
	switch KindOf(err) {
	case KindAuthenticationRequired:
		return "Your session has expired. Please sign in again."
	case KindRemoteValidation:
		if re != nil && re.Message != "" {
			return re.Message
		}
		return "The request was rejected. Please check your choices and try again."
	case KindNetwork:
		return "We couldn't reach the server. Please check your connection and try again."
	case KindJobFailed:
		if re != nil && re.Message != "" {
			return re.Message
		}
		return "Something went wrong while drawing your book."
	case KindCancelled:
		return "Generation was cancelled."
	default:
		return "Something went wrong. Please try again."
	}
}
