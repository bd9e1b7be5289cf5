// Package apperr classifies domain failures so callers can map them to
// responses and decide whether a retry is safe.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInsufficientBalance
	KindTransient
	KindTerminalTransfer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindTransient:
		return "transient"
	case KindTerminalTransfer:
		return "terminal_transfer"
	default:
		return "unknown"
	}
}

var (
	ErrBadInput            = errors.New("bad input")
	ErrNoEmail             = errors.New("no delivery email")
	ErrUnknownUser         = errors.New("unknown user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoAccount           = errors.New("no payee account")
	ErrTransferNotEnabled  = errors.New("payee account not enabled for transfers")
	ErrBelowMinimum        = errors.New("pending amount below minimum payout")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrInvalidReferral     = errors.New("invalid referral code")
	ErrSelfReferral        = errors.New("self referral")
)

var validation = []error{
	ErrBadInput,
	ErrNoEmail,
	ErrUnknownUser,
	ErrNoAccount,
	ErrTransferNotEnabled,
	ErrBelowMinimum,
	ErrInvalidReferral,
	ErrSelfReferral,
}

// KindOf classifies err. Anything that is not a known domain error is
// treated as a transient infrastructure failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrTransferFailed):
		return KindTerminalTransfer
	}
	for _, v := range validation {
		if errors.Is(err, v) {
			return KindValidation
		}
	}
	return KindTransient
}

// Retryable reports whether err implies nothing was persisted and the
// operation may be attempted again.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

type dbError struct {
	op  string
	err error
}

func (e *dbError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *dbError) Unwrap() error { return e.err }

// DB wraps a storage failure. Domain sentinels pass through untouched.
func DB(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindTransient {
		return err
	}
	return &dbError{op: op, err: err}
}

// IsDB reports whether err came from the storage layer.
func IsDB(err error) bool {
	var d *dbError
	return errors.As(err, &d)
}
