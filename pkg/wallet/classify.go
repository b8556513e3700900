package wallet

import (
	"errors"
	"strings"
)

// Wallet SDKs and nodes disagree wildly on error shapes; classification is
// by message substring, the only signal consistently available across
// injected, embedded and relay integrations.
var (
	userRejectedMarkers = []string{
		"user rejected",
		"user denied",
		"rejected by user",
		"request rejected",
	}
	nonceCollisionMarkers = []string{
		"nonce too low",
		"replacement transaction underpriced",
		"already known",
		"known transaction",
	}
)

// classifyProviderError re-classifies a raw provider or node error into
// the wallet taxonomy before it crosses the component boundary.
func classifyProviderError(err error, kind ProviderKind, message string) error {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		return err
	}

	lowered := strings.ToLower(err.Error())
	for _, marker := range userRejectedMarkers {
		if strings.Contains(lowered, marker) {
			return NewWalletError(ErrCodeUserRejected, message, err, kind)
		}
	}
	for _, marker := range nonceCollisionMarkers {
		if strings.Contains(lowered, marker) {
			return NewWalletError(ErrCodeNonceCollision, message, err, kind)
		}
	}

	return NewWalletError(ErrCodeRPCError, message, err, kind)
}

// isRetryableSubmit reports whether a submission failure may be retried.
// Only nonce collisions qualify; a user rejection is final by definition
// and anything else is surfaced to the caller untouched.
func isRetryableSubmit(err error) bool {
	return IsWalletError(err, ErrCodeNonceCollision)
}
