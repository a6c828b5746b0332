package service

import (
	"errors"
	"fmt"
)

// Kind classifies reconciliation failures for the boundary layer.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation means the request carried no usable identity.
	KindValidation
	// KindStore means a persistence call failed and the transaction was rolled back.
	KindStore
	// KindInvariant means the contact graph was not in the shape the algorithm guarantees.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStore:
		return "store"
	case KindInvariant:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// ErrMissingIdentity is the validation failure for a request with neither
// an email nor a phone number.
var ErrMissingIdentity = errors.New("either email or phoneNumber is required")

// Error is a classified reconciliation failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func validationError(err error) error {
	return &Error{Kind: KindValidation, Err: err}
}

func storeError(op string, err error) error {
	return &Error{Kind: KindStore, Op: op, Err: err}
}

func invariantError(format string, args ...any) error {
	return &Error{Kind: KindInvariant, Err: fmt.Errorf(format, args...)}
}

// classify leaves classified errors alone and treats everything else as a
// store failure, which is all WithinTx can add on its own.
func classify(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return storeError(op, err)
}
