package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// RawCaller is the JSON-RPC surface an injected wallet bridge exposes.
// *rpc.Client from go-ethereum satisfies it.
type RawCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// InjectedProvider adapts an external wallet reachable over a JSON-RPC
// bridge. The wallet holds the keys, so signing and broadcast round-trip
// through eth_sendTransaction and personal_sign; reads should never be
// issued here (see Router).
type InjectedProvider struct {
	caller RawCaller
	log    *logrus.Logger
	caps   CapabilitySet

	mu        sync.RWMutex
	address   common.Address
	connected bool
}

// NewInjectedProvider creates an injected-wallet adapter over the given
// JSON-RPC bridge connection.
func NewInjectedProvider(caller RawCaller, log *logrus.Logger) *InjectedProvider {
	return &InjectedProvider{
		caller: caller,
		log:    log,
		caps: NewCapabilitySet(
			CapSignMessage,
			CapSendTransaction,
			CapRawRequest,
			CapReadBalance,
		),
	}
}

// Kind returns KindInjected.
func (p *InjectedProvider) Kind() ProviderKind { return KindInjected }

// Capabilities returns the declared capability set.
func (p *InjectedProvider) Capabilities() CapabilitySet { return p.caps }

// Connect requests account access from the wallet and records the first
// exposed address as the active one.
func (p *InjectedProvider) Connect(ctx context.Context) (common.Address, error) {
	var accounts []string
	if err := p.caller.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return common.Address{}, NewWalletError(ErrCodeRPCError, "account request failed", err, KindInjected)
	}
	if len(accounts) == 0 {
		return common.Address{}, errNotConnected(KindInjected)
	}

	addr := common.HexToAddress(accounts[0])

	p.mu.Lock()
	p.address = addr
	p.connected = true
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"provider": KindInjected,
		"address":  addr.Hex(),
	}).Debug("Injected wallet connected")

	return addr, nil
}

// Address returns the connected address.
func (p *InjectedProvider) Address() (common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return common.Address{}, errNotConnected(KindInjected)
	}
	return p.address, nil
}

// IsConnected asks the wallet for its exposed accounts. A transport
// failure is reported as PROVIDER_NOT_READY rather than false: the bridge
// may still be finishing its own asynchronous restore, and committing to
// "disconnected" here would be wrong.
func (p *InjectedProvider) IsConnected(ctx context.Context) (bool, error) {
	var accounts []string
	if err := p.caller.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return false, NewWalletError(ErrCodeProviderNotReady, "wallet bridge not responding yet", err, KindInjected)
	}
	if len(accounts) == 0 {
		// Authoritative: the wallet answered and exposes no account.
		return false, nil
	}

	p.mu.Lock()
	p.address = common.HexToAddress(accounts[0])
	p.connected = true
	p.mu.Unlock()

	return true, nil
}

// SignMessage signs msg with personal_sign.
func (p *InjectedProvider) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	addr, err := p.Address()
	if err != nil {
		return nil, err
	}

	var sig hexutil.Bytes
	if err := p.caller.CallContext(ctx, &sig, "personal_sign", hexutil.Encode(msg), addr.Hex()); err != nil {
		return nil, classifyProviderError(err, KindInjected, "message signing failed")
	}
	return sig, nil
}

// SignTransaction is not declared for injected wallets; browser wallets
// broadcast themselves and do not hand out raw signed bytes.
func (p *InjectedProvider) SignTransaction(_ context.Context, _ *types.Transaction) ([]byte, error) {
	return nil, errCapabilityMissing(KindInjected, CapSignTransaction)
}

// SendTransaction submits tx through eth_sendTransaction and returns the
// hash the wallet reports.
func (p *InjectedProvider) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	addr, err := p.Address()
	if err != nil {
		return common.Hash{}, err
	}

	var raw string
	if err := p.caller.CallContext(ctx, &raw, "eth_sendTransaction", txToSendArgs(tx, addr)); err != nil {
		return common.Hash{}, classifyProviderError(err, KindInjected, "transaction submission failed")
	}

	hash := common.HexToHash(raw)
	p.log.WithFields(logrus.Fields{
		"provider": KindInjected,
		"tx_hash":  hash.Hex(),
		"nonce":    tx.Nonce(),
	}).Debug("Wallet reported transaction hash")

	return hash, nil
}

// Request forwards an untyped JSON-RPC call to the wallet.
func (p *InjectedProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	if err := p.caller.CallContext(ctx, &result, method, params...); err != nil {
		return nil, NewWalletError(ErrCodeRPCError, fmt.Sprintf("raw request %s failed", method), err, KindInjected)
	}
	return result, nil
}

// Disconnect revokes account access where the wallet supports it and
// clears the cached address either way.
func (p *InjectedProvider) Disconnect(ctx context.Context) error {
	var discard json.RawMessage
	err := p.caller.CallContext(ctx, &discard, "wallet_revokePermissions", map[string]interface{}{
		"eth_accounts": map[string]interface{}{},
	})

	p.mu.Lock()
	p.address = common.Address{}
	p.connected = false
	p.mu.Unlock()

	if err != nil {
		// Not all wallets implement revocation; local state is cleared regardless.
		p.log.WithError(err).Debug("Wallet permission revocation not supported")
	}
	return nil
}
