package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// FakeChain is an in-memory ChainReader for tests: it mines submitted
// transactions into blocks on demand and serves reads deterministically.
type FakeChain struct {
	mu         sync.Mutex
	chainID    *big.Int
	gasPrice   *big.Int
	gasTip     *big.Int
	estimate   uint64
	balances   map[common.Address]*big.Int
	nextNonce  map[common.Address]uint64
	minedNonce map[common.Address]uint64
	blocks     []*types.Block
	txByHash   map[common.Hash]*types.Transaction
	receipts   map[common.Hash]*types.Receipt
	pending    []*types.Transaction

	// AutoMine mines each submitted transaction into its own block
	// immediately; disable it to control mining from the test.
	AutoMine bool

	// SendErr, when set, fails every broadcast with this error.
	SendErr error
}

// NewFakeChain creates a chain with an empty genesis block.
func NewFakeChain(chainID *big.Int) *FakeChain {
	c := &FakeChain{
		chainID:    chainID,
		gasPrice:   big.NewInt(2_000_000_000),
		gasTip:     big.NewInt(1_000_000_000),
		estimate:   50_000,
		balances:   make(map[common.Address]*big.Int),
		nextNonce:  make(map[common.Address]uint64),
		minedNonce: make(map[common.Address]uint64),
		txByHash:   make(map[common.Hash]*types.Transaction),
		receipts:   make(map[common.Hash]*types.Receipt),
		AutoMine:   true,
	}
	c.blocks = append(c.blocks, types.NewBlockWithHeader(&types.Header{Number: big.NewInt(0)}))
	return c
}

// SetGasPrice overrides the suggested gas price.
func (c *FakeChain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = price
}

// SetEstimate overrides the gas estimate.
func (c *FakeChain) SetEstimate(gas uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimate = gas
}

// SetNonce pins the next pending nonce for an account.
func (c *FakeChain) SetNonce(account common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextNonce[account] = nonce
	c.minedNonce[account] = nonce
}

// SetBalance pins an account balance.
func (c *FakeChain) SetBalance(account common.Address, balance *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = balance
}

// FailReceipt marks the transaction's receipt as reverted.
func (c *FakeChain) FailReceipt(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		r.Status = types.ReceiptStatusFailed
	}
}

// MineBlock mines all pending transactions into one new block and
// returns its number.
func (c *FakeChain) MineBlock() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineLocked()
}

func (c *FakeChain) mineLocked() uint64 {
	number := uint64(len(c.blocks))
	block := types.NewBlockWithHeader(&types.Header{
		Number: new(big.Int).SetUint64(number),
	}).WithBody(types.Body{Transactions: c.pending})

	for _, tx := range c.pending {
		c.receipts[tx.Hash()] = &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(number),
			GasUsed:     21_000,
		}
		signer := types.LatestSignerForChainID(c.chainID)
		if from, err := types.Sender(signer, tx); err == nil {
			if tx.Nonce() >= c.minedNonce[from] {
				c.minedNonce[from] = tx.Nonce() + 1
			}
		}
	}

	c.pending = nil
	c.blocks = append(c.blocks, block)
	return number
}

// ChainID implements ChainReader.
func (c *FakeChain) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// BalanceAt implements ChainReader.
func (c *FakeChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// SuggestGasPrice implements ChainReader.
func (c *FakeChain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

// SuggestGasTipCap implements ChainReader.
func (c *FakeChain) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasTip), nil
}

// BlockNumber implements ChainReader.
func (c *FakeChain) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.blocks) - 1), nil
}

// BlockByNumber implements ChainReader.
func (c *FakeChain) BlockByNumber(_ context.Context, number *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := number.Uint64()
	if n >= uint64(len(c.blocks)) {
		return nil, ethereum.NotFound
	}
	return c.blocks[n], nil
}

// TransactionByHash implements ChainReader.
func (c *FakeChain) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txByHash[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := c.receipts[hash]
	return tx, !mined, nil
}

// TransactionReceipt implements ChainReader.
func (c *FakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// NonceAt implements ChainReader.
func (c *FakeChain) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minedNonce[account], nil
}

// PendingNonceAt implements ChainReader.
func (c *FakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextNonce[account], nil
}

// EstimateGas implements ChainReader.
func (c *FakeChain) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimate, nil
}

// SendTransaction implements ChainReader: it accepts a signed transaction
// into the pending pool, mining it immediately under AutoMine.
func (c *FakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return c.SendErr
	}

	c.txByHash[tx.Hash()] = tx
	c.pending = append(c.pending, tx)

	signer := types.LatestSignerForChainID(c.chainID)
	if from, err := types.Sender(signer, tx); err == nil {
		if tx.Nonce() >= c.nextNonce[from] {
			c.nextNonce[from] = tx.Nonce() + 1
		}
	}

	if c.AutoMine {
		c.mineLocked()
	}
	return nil
}

// FakeProvider is an in-memory Provider for tests. It signs with its own
// generated key and broadcasts to a FakeChain, and can be configured to
// misreport hashes (the documented mobile-wallet defect), reject a
// signing prompt, or report itself as not ready.
type FakeProvider struct {
	chain *FakeChain
	kind  ProviderKind
	caps  CapabilitySet
	key   *ecdsa.PrivateKey

	mu         sync.Mutex
	address    common.Address
	connected  bool
	notReady   bool
	rejectNext bool
	reportHash func(actual common.Hash) common.Hash

	// SendAttempts counts SendTransaction calls, including rejected ones.
	SendAttempts int

	// LastRawMethod records the most recent Request method.
	LastRawMethod string

	// DisconnectErr, when set, is returned by Disconnect after local
	// state is cleared, to exercise best-effort teardown paths.
	DisconnectErr error
}

// NewFakeProvider creates a fake of the given kind with a fresh key.
func NewFakeProvider(chain *FakeChain, kind ProviderKind) *FakeProvider {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &FakeProvider{
		chain:   chain,
		kind:    kind,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		caps: NewCapabilitySet(
			CapSignMessage,
			CapSendTransaction,
			CapRawRequest,
			CapReadBalance,
		),
	}
}

// SetCapabilities overrides the declared capability set.
func (p *FakeProvider) SetCapabilities(caps CapabilitySet) { p.caps = caps }

// SetNotReady toggles the "SDK restore still in flight" signal.
func (p *FakeProvider) SetNotReady(notReady bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notReady = notReady
}

// SetConnected forces the connected flag, emulating a restored session.
func (p *FakeProvider) SetConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

// RejectNextSend makes the next SendTransaction fail as a user rejection.
func (p *FakeProvider) RejectNextSend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = true
}

// MisreportHashes makes SendTransaction report the given hash instead of
// the real one. A nil fn restores honest reporting.
func (p *FakeProvider) MisreportHashes(fn func(actual common.Hash) common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportHash = fn
}

// Kind implements Provider.
func (p *FakeProvider) Kind() ProviderKind { return p.kind }

// Capabilities implements Provider.
func (p *FakeProvider) Capabilities() CapabilitySet { return p.caps }

// Connect implements Provider.
func (p *FakeProvider) Connect(_ context.Context) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return p.address, nil
}

// Address implements Provider.
func (p *FakeProvider) Address() (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return common.Address{}, errNotConnected(p.kind)
	}
	return p.address, nil
}

// IsConnected implements Provider.
func (p *FakeProvider) IsConnected(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notReady {
		return false, NewWalletError(ErrCodeProviderNotReady, "provider restore in flight", nil, p.kind)
	}
	return p.connected, nil
}

// SignMessage implements Provider with EIP-191 personal-message signing.
func (p *FakeProvider) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	if _, err := p.Address(); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), p.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignTransaction implements Provider.
func (p *FakeProvider) SignTransaction(_ context.Context, tx *types.Transaction) ([]byte, error) {
	if !p.caps.Has(CapSignTransaction) {
		return nil, errCapabilityMissing(p.kind, CapSignTransaction)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chain.chainID), p.key)
	if err != nil {
		return nil, err
	}
	return signed.MarshalBinary()
}

// SendTransaction implements Provider: it signs, broadcasts to the fake
// chain, and reports the (possibly misreported) hash.
func (p *FakeProvider) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	p.mu.Lock()
	p.SendAttempts++
	if p.rejectNext {
		p.rejectNext = false
		p.mu.Unlock()
		return common.Hash{}, NewWalletError(ErrCodeUserRejected, "signing prompt declined", nil, p.kind)
	}
	misreport := p.reportHash
	p.mu.Unlock()

	if _, err := p.Address(); err != nil {
		return common.Hash{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chain.chainID), p.key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := p.chain.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classifyProviderError(err, p.kind, "broadcast failed")
	}

	actual := signed.Hash()
	if misreport != nil {
		return misreport(actual), nil
	}
	return actual, nil
}

// Request implements Provider, recording the method and echoing null.
func (p *FakeProvider) Request(_ context.Context, method string, _ ...interface{}) (json.RawMessage, error) {
	if !p.caps.Has(CapRawRequest) {
		return nil, errCapabilityMissing(p.kind, CapRawRequest)
	}
	p.mu.Lock()
	p.LastRawMethod = method
	p.mu.Unlock()
	return json.RawMessage("null"), nil
}

// Disconnect implements Provider.
func (p *FakeProvider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	p.connected = false
	err := p.DisconnectErr
	p.mu.Unlock()
	return err
}
