package tx_confirmer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vultisig/ton-confirmer/tx_confirmer/pkg/txid"
)

func TestClassifyWalletError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"tonconnect reject", errors.New("User rejects the action in the wallet"), ErrUserRejected},
		{"cancelled", errors.New("Transaction was cancelled by user"), ErrUserRejected},
		{"funds", errors.New("Insufficient funds for transfer"), ErrInsufficientFunds},
		{"disconnected", errors.New("Wallet connection lost"), ErrWalletDisconnected},
		{"not connected", errors.New("wallet not connected"), ErrWalletDisconnected},
		{"network", errors.New("Network request failed"), ErrNetworkError},
		{"already classified", fmt.Errorf("bridge: %w", ErrInsufficientFunds), ErrInsufficientFunds},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyWalletError(tc.err)
			require.ErrorIs(t, got, tc.want)
			require.ErrorIs(t, got, tc.err)
		})
	}
}

func TestClassifyWalletError_Unknown(t *testing.T) {
	for _, msg := range []string{
		"something odd happened",
		"bridge returned status 400: unsupported network",
		"bridge returned status 400: request rejected: bad address",
		"bridge returned status 422: peer disconnected from relay",
	} {
		t.Run(msg, func(t *testing.T) {
			cause := errors.New(msg)
			got := ClassifyWalletError(cause)
			require.Equal(t, cause, got)
			for _, known := range []error{ErrUserRejected, ErrInsufficientFunds, ErrWalletDisconnected, ErrNetworkError} {
				require.NotErrorIs(t, got, known)
			}
		})
	}
	require.Nil(t, ClassifyWalletError(nil))
}

func TestHint(t *testing.T) {
	require.Equal(t, "Transaction was cancelled. You can try again when ready.",
		Hint(ClassifyWalletError(errors.New("User rejects the action"))))
	require.Equal(t, "Insufficient funds in your wallet. Please add more TON and try again.",
		Hint(fmt.Errorf("submit: %w", ErrInsufficientFunds)))
	require.Equal(t, "Please enter a valid TON address.", Hint(ErrInvalidRecipient))
	require.Equal(t, "Network error. Please check your connection and try again.", Hint(ErrNetworkError))
	require.Equal(t, "Wallet disconnected. Please reconnect your wallet and try again.", Hint(ErrWalletDisconnected))
	require.Equal(t, "Transaction data error. Please try again.", Hint(txid.ErrMalformedPayload))
	require.Equal(t, "Transaction data error. Please try again.", Hint(errors.New("Invalid BOC received")))
	require.Equal(t, "unknown", Hint(errors.New("unknown")))
	require.Empty(t, Hint(nil))
}
