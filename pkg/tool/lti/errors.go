// pkg/tool/lti/errors.go
package lti

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by DataConnector loads when no record matches.
	ErrNotFound = errors.New("lti: record not found")
	// ErrNoSigningKey means no private key is configured for JWT signing.
	ErrNoSigningKey = errors.New("lti: no signing key configured")
	// ErrNoConnector means the Env has no DataConnector.
	ErrNoConnector = errors.New("lti: data connector not configured")
	// ErrNoNonceStore means the Env has no NonceStore.
	ErrNoNonceStore = errors.New("lti: nonce store not configured")
)

// ErrorKind classifies a failed request.
type ErrorKind int

const (
	// KindProtocol covers transport and message-shape failures.
	KindProtocol ErrorKind = iota + 1
	// KindTrust covers key, signature, nonce and enablement failures.
	KindTrust
	// KindBusiness covers rule failures surfaced to the user.
	KindBusiness
	// KindInternal covers storage and other infrastructure failures.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTrust:
		return "trust"
	case KindBusiness:
		return "business"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a rejected LTI request. Reason is safe to show; Details are for
// debug logging only.
type Error struct {
	Kind    ErrorKind
	Reason  string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lti %s error: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("lti %s error: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func protocolError(reason string) *Error { return &Error{Kind: KindProtocol, Reason: reason} }

func trustError(reason string, details ...string) *Error {
	return &Error{Kind: KindTrust, Reason: reason, Details: details}
}

func businessError(reason string) *Error { return &Error{Kind: KindBusiness, Reason: reason} }

func wrapError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// ReasonOf returns the user-facing reason carried by err, or "" when err is
// not an *Error.
func ReasonOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}

// KindOf returns the kind of an *Error, or 0.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
