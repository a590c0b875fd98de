package commit

import "strings"

// ErrorKind is the caller-visible failure taxonomy from spec.md §7.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInsufficientFunds
	KindGasError
	KindNonceError
	KindContractRevert
	KindRPCUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case KindGasError:
		return "GAS_ERROR"
	case KindNonceError:
		return "NONCE_ERROR"
	case KindContractRevert:
		return "CONTRACT_REVERT"
	case KindRPCUnavailable:
		return "RPC_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// ClassifiedError pairs a Kind with the underlying RPC error so
// diagnostics are never lost, matching spec.md §7's "each includes the
// original message for diagnostics."
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// ClassifyError maps a raw RPC/signing error to a Kind by substring
// matching, mirroring blockchain_service.py's commit_hash except
// block: go-ethereum's node-side errors surface as plain strings with
// no typed hierarchy to switch on instead, so substring matching on
// the lowercased message is the same technique the Python original
// uses, not a simplification of something better available here.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return &ClassifiedError{Kind: KindInsufficientFunds, Err: err}
	case strings.Contains(msg, "nonce"):
		return &ClassifiedError{Kind: KindNonceError, Err: err}
	case strings.Contains(msg, "gas"):
		return &ClassifiedError{Kind: KindGasError, Err: err}
	case strings.Contains(msg, "revert"):
		return &ClassifiedError{Kind: KindContractRevert, Err: err}
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"), strings.Contains(msg, "dial"):
		return &ClassifiedError{Kind: KindRPCUnavailable, Err: err}
	default:
		return &ClassifiedError{Kind: KindUnknown, Err: err}
	}
}
