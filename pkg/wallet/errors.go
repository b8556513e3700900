// Package wallet implements the wallet-provider boundary for the escrow
// client: provider adapters, the hybrid read/write RPC router, nonce
// sequencing, gas policy, transaction submission and hash reconciliation.
package wallet

import (
	"errors"
	"fmt"
)

// Error codes for wallet and provider operations
const (
	// ErrCodeNotConnected indicates no wallet address is available
	ErrCodeNotConnected = "NOT_CONNECTED"
	// ErrCodeProviderNotReady indicates the provider SDK has not finished
	// its asynchronous restore; distinct from an authoritative disconnect
	ErrCodeProviderNotReady = "PROVIDER_NOT_READY"
	// ErrCodeCapabilityMissing indicates the provider does not declare the
	// capability required for the requested operation
	ErrCodeCapabilityMissing = "CAPABILITY_MISSING"
	// ErrCodeUserRejected indicates the user declined a signing prompt;
	// never retried
	ErrCodeUserRejected = "USER_REJECTED"
	// ErrCodeNonceCollision indicates the nonce was already consumed on
	// chain; resolved by re-querying the next nonce
	ErrCodeNonceCollision = "NONCE_COLLISION"
	// ErrCodePendingTransaction indicates a prior transaction for the same
	// sender has not reached a terminal state yet
	ErrCodePendingTransaction = "PENDING_TRANSACTION"
	// ErrCodeGasPriceExceeded indicates the network gas price is above the
	// configured ceiling; fatal, never silently clamped down
	ErrCodeGasPriceExceeded = "GAS_PRICE_EXCEEDED"
	// ErrCodeTxTimeout indicates a confirmation wait ran out of budget;
	// recoverable, the caller may keep polling
	ErrCodeTxTimeout = "TX_TIMEOUT"
	// ErrCodeTxNotFound indicates no on-chain transaction matched the
	// expected sender/nonce within the reconciliation window
	ErrCodeTxNotFound = "TX_NOT_FOUND"
	// ErrCodeTransactionFailed indicates the transaction reverted or the
	// broadcast was refused
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
	// ErrCodeBackendAuthFailed indicates the backend rejected the token
	// exchange during connect
	ErrCodeBackendAuthFailed = "BACKEND_AUTH_FAILED"
	// ErrCodeSignatureVerification indicates the backend rejected the
	// signed challenge
	ErrCodeSignatureVerification = "SIGNATURE_VERIFICATION_FAILED"
	// ErrCodeRPCError indicates an RPC transport or node failure
	ErrCodeRPCError = "RPC_ERROR"
)

// WalletError is the error type every provider- and RPC-layer failure is
// re-classified into before it reaches the session manager or a caller.
type WalletError struct {
	Code     string       // Error code identifying the type of error
	Message  string       // Human readable error message
	Err      error        // Underlying error if any
	Provider ProviderKind // Provider the error originated from, if known
}

// Error implements the error interface for WalletError.
func (e *WalletError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider %s): %v", e.Code, e.Message, e.Provider, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap returns the underlying error.
func (e *WalletError) Unwrap() error {
	return e.Err
}

// NewWalletError creates a new WalletError with the given parameters.
func NewWalletError(code string, message string, err error, provider ProviderKind) *WalletError {
	return &WalletError{
		Code:     code,
		Message:  message,
		Err:      err,
		Provider: provider,
	}
}

// IsWalletError reports whether err (or anything it wraps) is a
// WalletError carrying the given code.
func IsWalletError(err error, code string) bool {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Code == code
	}
	return false
}

// ErrorCode extracts the wallet error code from err, or returns the empty
// string when err carries no wallet classification.
func ErrorCode(err error) string {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}
