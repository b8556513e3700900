package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/escrowline/walletcore/pkg/metrics"
)

// TxStatus tracks a pending transaction's lifecycle.
type TxStatus int

const (
	// StatusSubmitted means the transaction was handed to the wallet
	StatusSubmitted TxStatus = iota
	// StatusConfirmed means the reconciled hash has a successful receipt
	StatusConfirmed
	// StatusFailed means the transaction reverted or was refused
	StatusFailed
	// StatusUnknown means the confirmation budget ran out first
	StatusUnknown
)

// String returns the status name.
func (s TxStatus) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PendingTransaction records one submission. SubmittedHash is whatever
// the wallet reported and is untrusted; ConfirmedHash is the reconciled
// hash and is only set once verified on chain.
type PendingTransaction struct {
	Sender        common.Address
	Nonce         uint64
	SubmittedHash common.Hash
	ConfirmedHash *common.Hash
	Status        TxStatus
}

// SubmitRequest describes one transaction to submit. A nil To deploys a
// contract. GasLimitHint skips estimation when the caller already knows
// the cost.
type SubmitRequest struct {
	To           *common.Address
	Data         []byte
	Value        *big.Int
	GasLimitHint uint64
}

// maxSubmitAttempts bounds re-submission after a nonce collision.
const maxSubmitAttempts = 3

// Submitter signs and submits transactions through a Router, applying the
// gas policy, sequencing nonces, and reconciling the wallet-reported hash
// before waiting on a receipt.
type Submitter struct {
	router     *Router
	sequencer  *Sequencer
	reconciler *Reconciler
	gas        GasPolicy
	confirm    RetryPolicy
	metrics    *metrics.WalletMetrics
	log        *logrus.Logger
}

// SubmitterConfig collects the Submitter collaborators. Gas and Confirm
// fall back to defaults when zero; Metrics may be nil.
type SubmitterConfig struct {
	Router     *Router
	Sequencer  *Sequencer
	Reconciler *Reconciler
	Gas        GasPolicy
	Confirm    RetryPolicy
	Metrics    *metrics.WalletMetrics
	Log        *logrus.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	if cfg.Gas.LimitMultiplier == 0 {
		cfg.Gas = DefaultGasPolicy()
	}
	if cfg.Confirm.MaxAttempts == 0 {
		cfg.Confirm = DefaultRetryPolicy()
	}
	return &Submitter{
		router:     cfg.Router,
		sequencer:  cfg.Sequencer,
		reconciler: cfg.Reconciler,
		gas:        cfg.Gas,
		confirm:    cfg.Confirm,
		metrics:    cfg.Metrics,
		log:        cfg.Log,
	}
}

// Submit executes one transaction end to end: reserve the nonce, resolve
// gas against policy, dispatch through the wallet, reconcile the reported
// hash, and wait for a successful receipt. The sequencer is released with
// the terminal outcome either way.
//
// Only nonce collisions are retried (with a fresh nonce); a user
// rejection is surfaced immediately and never retried.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*PendingTransaction, error) {
	sender, err := s.router.Provider().Address()
	if err != nil {
		return nil, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	var (
		nonce    uint64
		reported common.Hash
	)

	for attempt := 1; ; attempt++ {
		nonce, err = s.sequencer.Reserve(ctx, s.router.Reader(), sender)
		if err != nil {
			return nil, err
		}

		tx, err := s.buildTx(ctx, sender, req, value, nonce)
		if err != nil {
			s.sequencer.Complete(sender, nonce, false)
			return nil, err
		}

		reported, err = s.router.SendTransaction(ctx, tx)
		if err == nil {
			break
		}

		s.sequencer.Complete(sender, nonce, false)
		s.countSubmit("rejected")

		if !isRetryableSubmit(err) || attempt >= maxSubmitAttempts {
			return nil, err
		}

		s.log.WithFields(logrus.Fields{
			"address": sender.Hex(),
			"nonce":   nonce,
			"attempt": attempt,
			"error":   err,
		}).Warn("Nonce collision, re-querying and retrying submission")
	}

	s.countSubmit("ok")
	pending := &PendingTransaction{
		Sender:        sender,
		Nonce:         nonce,
		SubmittedHash: reported,
		Status:        StatusSubmitted,
	}

	s.log.WithFields(logrus.Fields{
		"address": sender.Hex(),
		"nonce":   nonce,
		"tx_hash": reported.Hex(),
	}).Info("Transaction submitted")

	confirmed, err := s.reconciler.Reconcile(ctx, sender, nonce, reported)
	if err != nil {
		if IsWalletError(err, ErrCodeTxTimeout) {
			// Recoverable: the caller may keep polling out of band.
			pending.Status = StatusUnknown
			return pending, err
		}
		pending.Status = StatusFailed
		s.sequencer.Complete(sender, nonce, false)
		s.countConfirm("not_found")
		return pending, err
	}
	pending.ConfirmedHash = &confirmed
	if confirmed != reported {
		s.countReconciled()
	}

	if err := s.waitReceipt(ctx, confirmed); err != nil {
		if IsWalletError(err, ErrCodeTxTimeout) {
			// Outcome indeterminate: the nonce stays reserved so the
			// caller can keep polling out of band.
			pending.Status = StatusUnknown
			return pending, err
		}
		pending.Status = StatusFailed
		s.sequencer.Complete(sender, nonce, false)
		s.countConfirm("failed")
		return pending, err
	}

	pending.Status = StatusConfirmed
	s.sequencer.Complete(sender, nonce, true)
	s.countConfirm("ok")

	s.log.WithFields(logrus.Fields{
		"address": sender.Hex(),
		"nonce":   nonce,
		"tx_hash": confirmed.Hex(),
	}).Info("Transaction confirmed")

	return pending, nil
}

// buildTx resolves gas against policy and assembles a legacy transaction.
// Prices come from the trusted endpoint only.
func (s *Submitter) buildTx(ctx context.Context, sender common.Address, req SubmitRequest, value *big.Int, nonce uint64) (*types.Transaction, error) {
	gasPrice, err := s.gas.ResolvePrice(ctx, s.router.Reader())
	if err != nil {
		return nil, err
	}

	gasLimit, err := s.gas.ResolveLimit(ctx, s.router.Reader(), ethereum.CallMsg{
		From:     sender,
		To:       req.To,
		Data:     req.Data,
		Value:    value,
		GasPrice: gasPrice,
	}, req.GasLimitHint)
	if err != nil {
		return nil, err
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       req.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	}), nil
}

// waitReceipt polls the trusted endpoint for the reconciled hash's
// receipt under the confirmation policy.
func (s *Submitter) waitReceipt(ctx context.Context, hash common.Hash) error {
	return s.confirm.Do(ctx, func(ctx context.Context) (bool, error) {
		receipt, err := s.router.TransactionReceipt(ctx, hash)
		if err != nil || receipt == nil {
			return false, NewWalletError(ErrCodeTxTimeout, "receipt not available yet", err, "")
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return true, NewWalletError(ErrCodeTransactionFailed, "transaction reverted", nil, "")
		}
		return true, nil
	})
}

func (s *Submitter) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.IncSubmitted(result)
	}
}

func (s *Submitter) countReconciled() {
	if s.metrics != nil {
		s.metrics.IncReconciled(string(s.router.Provider().Kind()))
	}
}

func (s *Submitter) countConfirm(result string) {
	if s.metrics != nil {
		s.metrics.IncConfirmed(result)
	}
}
