package relay

import (
	"errors"
	"fmt"
)

// Kind classifies a relay failure for the transport layer.
type Kind int

const (
	// KindStorage is a server-side failure of the store or the hub
	// transport. It is the zero value, so unclassified errors land here.
	KindStorage Kind = iota
	// KindValidation is a malformed request.
	KindValidation
	// KindDuplicate is a replayed message for the same recipient.
	KindDuplicate
	// KindNotFound is an unknown identity where one is required.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindNotFound:
		return "not_found"
	default:
		return "storage"
	}
}

// Error is the error type returned by Service.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindStorage if err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindStorage
}

// IsKind reports whether err is a relay error of kind k.
func IsKind(err error, k Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == k
}

func validationError(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func storageError(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}
