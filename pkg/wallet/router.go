package wallet

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ChainReader is the read-only surface of a trusted RPC endpoint.
// *ethclient.Client satisfies it. SendTransaction is included for
// broadcasting locally signed bytes; it is a broadcast, not a read, and
// is never retried.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// readMethods is the classification table for raw requests: anything here
// is answered by the trusted endpoint, everything else is treated as a
// write and forwarded to the wallet.
var readMethods = map[string]bool{
	"eth_getBalance":            true,
	"eth_gasPrice":              true,
	"eth_maxPriorityFeePerGas":  true,
	"eth_feeHistory":            true,
	"eth_blockNumber":           true,
	"eth_getBlockByNumber":      true,
	"eth_getBlockByHash":        true,
	"eth_getTransactionByHash":  true,
	"eth_getTransactionCount":   true,
	"eth_getTransactionReceipt": true,
	"eth_estimateGas":           true,
	"eth_call":                  true,
	"eth_chainId":               true,
	"eth_getCode":               true,
	"eth_getLogs":               true,
}

// Router splits chain traffic between a trusted RPC endpoint and the
// wallet. Reads always hit the trusted endpoint because injected wallets
// reject read-only methods inconsistently (priority-fee queries are the
// usual casualty); writes always go to the wallet, which alone holds
// signing authority. Holders of a Router cannot tell it from a direct
// provider except by the absence of read-path failures.
type Router struct {
	provider Provider
	reader   ChainReader
	raw      RawCaller // trusted raw endpoint for untyped reads, optional
	limiter  *rate.Limiter
	retry    RetryPolicy
	log      *logrus.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRawReader supplies a raw JSON-RPC connection to the trusted
// endpoint so untyped read requests can be answered there too.
func WithRawReader(raw RawCaller) RouterOption {
	return func(r *Router) { r.raw = raw }
}

// WithReadRate bounds the trusted read path to n calls per second; the
// confirmation pollers must not hammer the node.
func WithReadRate(n float64) RouterOption {
	return func(r *Router) { r.limiter = rate.NewLimiter(rate.Limit(n), int(n)+1) }
}

// WithReadRetry overrides the transparent read-retry policy.
func WithReadRetry(policy RetryPolicy) RouterOption {
	return func(r *Router) { r.retry = policy }
}

// NewRouter wraps provider with trusted-read routing.
func NewRouter(provider Provider, reader ChainReader, log *logrus.Logger, opts ...RouterOption) *Router {
	r := &Router{
		provider: provider,
		reader:   reader,
		limiter:  rate.NewLimiter(rate.Limit(20), 40),
		retry:    ReadRetryPolicy(),
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provider returns the wrapped wallet provider.
func (r *Router) Provider() Provider { return r.provider }

// Reader returns the trusted chain reader.
func (r *Router) Reader() ChainReader { return r.reader }

// read runs op against the trusted endpoint with rate limiting and the
// bounded transparent retry that is safe for idempotent reads only.
func (r *Router) read(ctx context.Context, op func(ctx context.Context) error) error {
	return r.retry.Do(ctx, func(ctx context.Context) (bool, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return true, NewWalletError(ErrCodeTxTimeout, "read aborted by caller deadline", err, "")
		}
		if err := op(ctx); err != nil {
			// Transport hiccups retry; context expiry does not.
			if ctx.Err() != nil {
				return true, NewWalletError(ErrCodeTxTimeout, "read aborted by caller deadline", ctx.Err(), "")
			}
			return false, NewWalletError(ErrCodeRPCError, "trusted read failed", err, "")
		}
		return true, nil
	})
}

// BalanceAt reads a native balance from the trusted endpoint.
func (r *Router) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var out *big.Int
	err := r.read(ctx, func(ctx context.Context) error {
		var e error
		out, e = r.reader.BalanceAt(ctx, account, blockNumber)
		return e
	})
	return out, err
}

// SuggestGasPrice reads the current gas price from the trusted endpoint.
func (r *Router) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := r.read(ctx, func(ctx context.Context) error {
		var e error
		out, e = r.reader.SuggestGasPrice(ctx)
		return e
	})
	return out, err
}

// BlockNumber reads the chain head from the trusted endpoint.
func (r *Router) BlockNumber(ctx context.Context) (uint64, error) {
	var out uint64
	err := r.read(ctx, func(ctx context.Context) error {
		var e error
		out, e = r.reader.BlockNumber(ctx)
		return e
	})
	return out, err
}

// TransactionReceipt reads a receipt from the trusted endpoint.
func (r *Router) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var out *types.Receipt
	err := r.read(ctx, func(ctx context.Context) error {
		var e error
		out, e = r.reader.TransactionReceipt(ctx, hash)
		return e
	})
	return out, err
}

// PendingNonceAt reads the next nonce from the trusted endpoint.
func (r *Router) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var out uint64
	err := r.read(ctx, func(ctx context.Context) error {
		var e error
		out, e = r.reader.PendingNonceAt(ctx, account)
		return e
	})
	return out, err
}

// SignMessage forwards message signing to the wallet.
func (r *Router) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	if !r.provider.Capabilities().Has(CapSignMessage) {
		return nil, errCapabilityMissing(r.provider.Kind(), CapSignMessage)
	}
	return r.provider.SignMessage(ctx, msg)
}

// SendTransaction dispatches tx through whichever write capability the
// wallet declares: wallets that broadcast themselves are used directly,
// sign-only wallets have their raw bytes broadcast over the trusted
// endpoint. Never retried here.
func (r *Router) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	caps := r.provider.Capabilities()
	kind := r.provider.Kind()

	switch {
	case caps.Has(CapSendTransaction):
		return r.provider.SendTransaction(ctx, tx)

	case caps.Has(CapSignTransaction):
		rawTx, err := r.provider.SignTransaction(ctx, tx)
		if err != nil {
			return common.Hash{}, err
		}
		var signed types.Transaction
		if err := signed.UnmarshalBinary(rawTx); err != nil {
			return common.Hash{}, NewWalletError(ErrCodeTransactionFailed, "malformed signed transaction bytes", err, kind)
		}
		if err := r.reader.SendTransaction(ctx, &signed); err != nil {
			return common.Hash{}, classifyProviderError(err, kind, "broadcast of signed transaction failed")
		}
		return signed.Hash(), nil

	default:
		return common.Hash{}, errCapabilityMissing(kind, CapSendTransaction)
	}
}

// Request classifies an untyped call by method name and routes it: reads
// to the trusted endpoint, writes to the wallet.
func (r *Router) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if readMethods[method] {
		if r.raw == nil {
			return nil, NewWalletError(ErrCodeRPCError, "no trusted raw endpoint configured for read "+method, nil, "")
		}
		var result json.RawMessage
		err := r.read(ctx, func(ctx context.Context) error {
			return r.raw.CallContext(ctx, &result, method, params...)
		})
		return result, err
	}

	if !r.provider.Capabilities().Has(CapRawRequest) {
		return nil, errCapabilityMissing(r.provider.Kind(), CapRawRequest)
	}
	return r.provider.Request(ctx, method, params...)
}
