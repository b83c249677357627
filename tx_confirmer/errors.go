package tx_confirmer

import (
	"errors"
	"strings"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

var (
	ErrMalformedPayload = txid.ErrMalformedPayload

	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrAmountTooSmall   = errors.New("amount is below the minimum")

	ErrUserRejected       = errors.New("transaction was cancelled by user")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrWalletDisconnected = errors.New("wallet connection lost")
	ErrNetworkError       = errors.New("network error")

	ErrPollCancelled = errors.New("confirmation polling cancelled")
)

// TimedOutHint is shown when a transfer was sent but never corroborated.
const TimedOutHint = "Transaction was sent but confirmation timed out. " +
	"This doesn't mean the transaction failed - it may still be processing. " +
	"Check the transaction on TON Viewer to verify its status."

var hints = []struct {
	err  error
	hint string
}{
	{ErrUserRejected, "Transaction was cancelled. You can try again when ready."},
	{ErrInsufficientFunds, "Insufficient funds in your wallet. Please add more TON and try again."},
	{ErrInvalidRecipient, "Please enter a valid TON address."},
	{ErrInvalidAmount, "Please enter a valid amount."},
	{ErrAmountTooSmall, "Amount is below the minimum transfer."},
	{ErrNetworkError, "Network error. Please check your connection and try again."},
	{ErrWalletDisconnected, "Wallet disconnected. Please reconnect your wallet and try again."},
	{ErrMalformedPayload, "Transaction data error. Please try again."},
}

// Hint returns the remediation text for a submission error. Errors without
// a known remedy are described by their own message.
func Hint(err error) string {
	if err == nil {
		return ""
	}
	for _, h := range hints {
		if errors.Is(err, h.err) {
			return h.hint
		}
	}
	if strings.Contains(err.Error(), "Invalid BOC") {
		return "Transaction data error. Please try again."
	}
	return err.Error()
}

// ClassifyWalletError maps a raw wallet failure onto the submission
// taxonomy. Errors already carrying a classification are returned as is;
// unrecognised ones are returned unchanged.
func ClassifyWalletError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrUserRejected, ErrInsufficientFunds, ErrWalletDisconnected, ErrNetworkError} {
		if errors.Is(err, known) {
			return err
		}
	}

	// "Network" is matched case sensitively.
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "cancelled by user"), strings.Contains(lower, "canceled by user"),
		strings.Contains(lower, "user rejects"):
		return wrap(ErrUserRejected, err)
	case strings.Contains(lower, "insufficient funds"):
		return wrap(ErrInsufficientFunds, err)
	case strings.Contains(lower, "wallet connection lost"), strings.Contains(lower, "wallet not connected"):
		return wrap(ErrWalletDisconnected, err)
	case strings.Contains(msg, "Network"):
		return wrap(ErrNetworkError, err)
	default:
		return err
	}
}

type classifiedError struct {
	kind  error
	cause error
}

func wrap(kind, cause error) error {
	return &classifiedError{kind: kind, cause: cause}
}

func (e *classifiedError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.cause}
}
