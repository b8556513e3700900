package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// EmbeddedProvider is a social-login-backed account whose key lives in
// process. It signs headlessly without user prompts and never broadcasts
// itself; signed bytes are handed back for broadcast over the trusted
// endpoint.
type EmbeddedProvider struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	log        *logrus.Logger
	caps       CapabilitySet

	mu        sync.RWMutex
	connected bool
}

// NewEmbeddedProvider creates an embedded provider from a hex-encoded
// private key (with optional 0x prefix) for the given chain.
func NewEmbeddedProvider(privateKeyHex string, chainID *big.Int, log *logrus.Logger) (*EmbeddedProvider, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}
	if len(privateKeyHex) > 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	return &EmbeddedProvider{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    chainID,
		log:        log,
		caps: NewCapabilitySet(
			CapSignMessage,
			CapSignTransaction,
			CapReadBalance,
		),
	}, nil
}

// Kind returns KindEmbedded.
func (p *EmbeddedProvider) Kind() ProviderKind { return KindEmbedded }

// Capabilities returns the declared capability set.
func (p *EmbeddedProvider) Capabilities() CapabilitySet { return p.caps }

// Connect marks the account active. The key is already in process, so no
// external flow runs and no prompt is shown.
func (p *EmbeddedProvider) Connect(_ context.Context) (common.Address, error) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"provider": KindEmbedded,
		"address":  p.address.Hex(),
	}).Debug("Embedded account connected")

	return p.address, nil
}

// Address returns the derived account address.
func (p *EmbeddedProvider) Address() (common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return common.Address{}, errNotConnected(KindEmbedded)
	}
	return p.address, nil
}

// IsConnected reports the in-process connect flag; an embedded account is
// always authoritative about its own state.
func (p *EmbeddedProvider) IsConnected(_ context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected, nil
}

// SignMessage signs msg with the EIP-191 personal-message prefix.
func (p *EmbeddedProvider) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	if _, err := p.Address(); err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(accounts.TextHash(msg), p.privateKey)
	if err != nil {
		return nil, NewWalletError(ErrCodeTransactionFailed, "message signing failed", err, KindEmbedded)
	}
	// Recovery id to Ethereum convention.
	sig[64] += 27
	return sig, nil
}

// SignTransaction signs tx with the chain-ID signer and returns the raw
// signed bytes for broadcast over the trusted endpoint.
func (p *EmbeddedProvider) SignTransaction(_ context.Context, tx *types.Transaction) ([]byte, error) {
	if _, err := p.Address(); err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.privateKey)
	if err != nil {
		return nil, NewWalletError(ErrCodeTransactionFailed, "transaction signing failed", err, KindEmbedded)
	}
	return signed.MarshalBinary()
}

// SendTransaction is not declared: the embedded account has no node of its
// own, broadcast is the router's job.
func (p *EmbeddedProvider) SendTransaction(_ context.Context, _ *types.Transaction) (common.Hash, error) {
	return common.Hash{}, errCapabilityMissing(KindEmbedded, CapSendTransaction)
}

// Request is not declared; there is no wallet-side RPC surface.
func (p *EmbeddedProvider) Request(_ context.Context, _ string, _ ...interface{}) (json.RawMessage, error) {
	return nil, errCapabilityMissing(KindEmbedded, CapRawRequest)
}

// Disconnect clears the connect flag.
func (p *EmbeddedProvider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}
