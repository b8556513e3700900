package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// defaultBlockWindow is how many recent blocks are walked per polling
// round when searching for the submitted transaction.
const defaultBlockWindow = 10

// Reconciler resolves a production defect seen with mobile wallet
// integrations: the hash returned from eth_sendTransaction sometimes
// belongs to a different transaction entirely (different sender and
// nonce). Waiting on such a hash never terminates. The reconciler
// therefore treats the reported hash as a hint only and identifies the
// broadcast transaction by its (sender, nonce) pair in recent blocks.
type Reconciler struct {
	reader ChainReader
	window uint64
	retry  RetryPolicy
	log    *logrus.Logger

	mu     sync.Mutex
	signer types.Signer // lazily built from the chain ID
}

// NewReconciler creates a reconciler over the trusted reader. window is
// the number of recent blocks scanned per round; zero selects the
// default.
func NewReconciler(reader ChainReader, window uint64, retry RetryPolicy, log *logrus.Logger) *Reconciler {
	if window == 0 {
		window = defaultBlockWindow
	}
	return &Reconciler{
		reader: reader,
		window: window,
		retry:  retry,
		log:    log,
	}
}

// Reconcile returns the hash of the transaction actually broadcast for
// (sender, nonce). The wallet-reported hash is verified before being
// accepted; when it does not check out, recent blocks are scanned for the
// matching pair across bounded polling rounds to tolerate mining delay.
// An exhausted budget surfaces TX_NOT_FOUND, never the unverified
// reported hash.
func (r *Reconciler) Reconcile(ctx context.Context, sender common.Address, nonce uint64, reported common.Hash) (common.Hash, error) {
	var confirmed common.Hash

	err := r.retry.Do(ctx, func(ctx context.Context) (bool, error) {
		if hash, ok := r.verifyReported(ctx, sender, nonce, reported); ok {
			confirmed = hash
			return true, nil
		}

		hash, found, err := r.scanRecentBlocks(ctx, sender, nonce)
		if err != nil {
			return false, err
		}
		if found {
			confirmed = hash
			return true, nil
		}
		return false, NewWalletError(ErrCodeTxNotFound, "no transaction matched expected sender and nonce", nil, "")
	})
	if err != nil {
		return common.Hash{}, err
	}

	if confirmed != reported {
		r.log.WithFields(logrus.Fields{
			"address":       sender.Hex(),
			"nonce":         nonce,
			"reported_hash": reported.Hex(),
			"actual_hash":   confirmed.Hex(),
		}).Warn("Wallet reported a hash that does not match the broadcast transaction")
	}

	return confirmed, nil
}

// verifyReported checks whether the wallet-reported hash resolves to a
// transaction with the expected sender and nonce. A mismatch or lookup
// failure simply disqualifies the hash; it is never an error.
func (r *Reconciler) verifyReported(ctx context.Context, sender common.Address, nonce uint64, reported common.Hash) (common.Hash, bool) {
	if reported == (common.Hash{}) {
		return common.Hash{}, false
	}

	tx, _, err := r.reader.TransactionByHash(ctx, reported)
	if err != nil || tx == nil {
		return common.Hash{}, false
	}
	if tx.Nonce() != nonce {
		return common.Hash{}, false
	}

	signer, err := r.chainSigner(ctx)
	if err != nil {
		return common.Hash{}, false
	}
	from, err := types.Sender(signer, tx)
	if err != nil || from != sender {
		return common.Hash{}, false
	}

	return tx.Hash(), true
}

// scanRecentBlocks walks backward from the head through the configured
// window looking for the (sender, nonce) pair.
func (r *Reconciler) scanRecentBlocks(ctx context.Context, sender common.Address, nonce uint64) (common.Hash, bool, error) {
	head, err := r.reader.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, false, NewWalletError(ErrCodeRPCError, "failed to get chain head", err, "")
	}

	signer, err := r.chainSigner(ctx)
	if err != nil {
		return common.Hash{}, false, err
	}

	low := uint64(0)
	if head > r.window {
		low = head - r.window
	}

	for number := head; ; number-- {
		block, err := r.reader.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			// A pruned or still-propagating block ends this round early.
			break
		}

		for _, tx := range block.Transactions() {
			if tx.Nonce() != nonce {
				continue
			}
			from, err := types.Sender(signer, tx)
			if err != nil {
				continue
			}
			if from == sender {
				return tx.Hash(), true, nil
			}
		}

		if number == low {
			break
		}
	}

	return common.Hash{}, false, nil
}

func (r *Reconciler) chainSigner(ctx context.Context) (types.Signer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.signer != nil {
		return r.signer, nil
	}

	chainID, err := r.reader.ChainID(ctx)
	if err != nil {
		return nil, NewWalletError(ErrCodeRPCError, "failed to get chain ID", err, "")
	}
	r.signer = types.LatestSignerForChainID(chainID)
	return r.signer, nil
}
