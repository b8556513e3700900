package wallet

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is the uniform capability interface over heterogeneous wallet
// SDKs. Implementations declare their capability set at construction;
// operations outside the declared set return CAPABILITY_MISSING.
//
// IsConnected distinguishes two signals that callers must not conflate:
// a plain false means the wallet is authoritatively disconnected, while a
// PROVIDER_NOT_READY error means the underlying SDK has not finished its
// asynchronous restore and the answer is not yet known.
type Provider interface {
	// Kind returns the provider class.
	Kind() ProviderKind

	// Capabilities returns the operation set declared at construction.
	Capabilities() CapabilitySet

	// Connect establishes the wallet session and returns the active address.
	Connect(ctx context.Context) (common.Address, error)

	// Address returns the connected address, or NOT_CONNECTED if unset.
	Address() (common.Address, error)

	// IsConnected reports whether a wallet session is live.
	IsConnected(ctx context.Context) (bool, error)

	// SignMessage signs a personal message and returns the signature.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)

	// SignTransaction signs tx offline and returns the raw signed bytes.
	// Declared via CapSignTransaction.
	SignTransaction(ctx context.Context, tx *types.Transaction) ([]byte, error)

	// SendTransaction has the wallet sign and broadcast tx, returning the
	// hash the wallet reports. The hash is untrusted; see Reconciler.
	// Declared via CapSendTransaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	// Request is raw JSON-RPC passthrough, used only when no typed method
	// exists. Declared via CapRawRequest.
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)

	// Disconnect tears the wallet session down.
	Disconnect(ctx context.Context) error
}

// errCapabilityMissing builds the uniform error for undeclared operations.
func errCapabilityMissing(kind ProviderKind, cap Capability) error {
	return NewWalletError(ErrCodeCapabilityMissing, "provider does not support "+string(cap), nil, kind)
}

// errNotConnected builds the uniform error for operations before connect.
func errNotConnected(kind ProviderKind) error {
	return NewWalletError(ErrCodeNotConnected, "no wallet address available", nil, kind)
}
