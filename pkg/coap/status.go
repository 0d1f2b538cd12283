package coap

import "errors"

// Kind is the error taxonomy used by object callbacks, the dispatcher,
// the registration FSM, and the management issuer. Every Kind maps to
// exactly one CoAP response code (spec.md §7).
type Kind uint8

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindNotFound
	KindMethodNotAllowed
	KindUnsupportedContentFormat
	KindInternalError
	KindNotImplemented
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthorized:
		return "Unauthorized"
	case KindNotFound:
		return "NotFound"
	case KindMethodNotAllowed:
		return "MethodNotAllowed"
	case KindUnsupportedContentFormat:
		return "UnsupportedContentFormat"
	case KindInternalError:
		return "InternalError"
	case KindNotImplemented:
		return "NotImplemented"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Code returns the CoAP response code this Kind maps to.
func (k Kind) Code() Code {
	switch k {
	case KindBadRequest:
		return BadRequest
	case KindUnauthorized:
		return Unauthorized
	case KindNotFound:
		return NotFound
	case KindMethodNotAllowed:
		return MethodNotAllowed
	case KindUnsupportedContentFormat:
		return UnsupportedContentFormat
	case KindInternalError:
		return InternalServerError
	case KindNotImplemented:
		return NotImplemented
	case KindCancelled:
		return ServiceUnavailable
	default:
		return InternalServerError
	}
}

// Error pairs a Kind with a human-readable message. Object callbacks,
// path parsing, and TLV decoding all return *Error (or wrap one) so the
// dispatcher can translate the failure into a CoAP response code
// without inspecting the message text.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, defaulting to KindInternalError otherwise — the fallback
// spec.md §7 assigns to "callback returned negative that is none of the
// above".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalError
}

// CodeFor maps any error to the CoAP response code the dispatcher or
// management issuer should send, per spec.md §7.
func CodeFor(err error) Code {
	return KindOf(err).Code()
}
