package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrDuplicateID    = errors.New("duplicate certificate id")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyRevoked = errors.New("certificate already revoked")
	ErrLedger         = errors.New("ledger error")

	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrSignatureInvalid = errors.New("signature invalid")
)

type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "InvalidInput"
	KindUnauthorized   ErrorKind = "Unauthorized"
	KindDuplicateID    ErrorKind = "DuplicateId"
	KindNotFound       ErrorKind = "NotFound"
	KindAlreadyRevoked ErrorKind = "AlreadyRevoked"
	KindLedgerError    ErrorKind = "LedgerError"
)

// KindOf classifies err into one of the six lifecycle error kinds. Anything
// not produced by the core is treated as a collaborator failure.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrUnauthenticated):
		return KindUnauthorized
	case errors.Is(err, ErrDuplicateID):
		return KindDuplicateID
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyRevoked):
		return KindAlreadyRevoked
	default:
		return KindLedgerError
	}
}

// InvalidInput wraps ErrInvalidInput with the offending field.
func InvalidInput(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidInput, field, reason)
}

// LedgerError reports a failure of the ledger collaborator itself. The core
// cannot tell transient from permanent failures and never retries.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return "ledger " + e.Op + " failed"
	}
	return "ledger " + e.Op + ": " + e.Err.Error()
}

func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *LedgerError) Is(target error) bool {
	return target == ErrLedger
}

func NewLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return &LedgerError{Op: op, Err: err}
}

type RejectReason string

const (
	RejectKeyExists       RejectReason = "key_exists"
	RejectKeyMissing      RejectReason = "key_missing"
	RejectVersionMismatch RejectReason = "version_mismatch"
)

// TxRejectedError is returned by a ledger when a transaction's precondition
// did not hold at commit time. Nothing was written.
type TxRejectedError struct {
	Key    string
	Reason RejectReason
}

func (e *TxRejectedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transaction rejected for key %q: %s", e.Key, e.Reason)
}

func IsTxRejected(err error) (*TxRejectedError, bool) {
	var rejected *TxRejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
