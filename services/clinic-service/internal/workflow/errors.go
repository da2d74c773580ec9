package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow failure. Every operation returns either nil or
// an *Error carrying one of these kinds; nothing else escapes the workflow
// boundary.
type Kind string

const (
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation_error"
	KindInvalidStatus       Kind = "invalid_status"
	KindInvalidTransition   Kind = "invalid_transition"
	KindSchedulingConflict  Kind = "scheduling_conflict"
	KindDuplicateInvoice    Kind = "duplicate_invoice"
	KindAlreadyPaid         Kind = "already_paid"
	KindHasPayment          Kind = "has_payment"
	KindInvalidIntent       Kind = "invalid_intent"
	KindPaymentNotSucceeded Kind = "payment_not_succeeded"
	KindInvalidSignature    Kind = "invalid_signature"
	KindGateway             Kind = "gateway_error"
	KindInternal            Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// Message is the caller-safe text; internal error detail stays in err.
func (e *Error) Message() string { return e.Msg }

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the failure kind, returning KindInternal for any error
// the workflow did not classify.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func internalErr(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Msg: msg, err: err}
}
