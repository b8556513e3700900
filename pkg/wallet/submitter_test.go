package wallet_test

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/escrowline/walletcore/pkg/wallet"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// receiptlessReader serves everything from the wrapped reader but never
// produces a receipt, stalling confirmation indefinitely.
type receiptlessReader struct {
	wallet.ChainReader
}

func (r *receiptlessReader) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, errors.New("connection reset by peer")
}

var _ = Describe("Submitter", func() {
	var (
		chain    *wallet.FakeChain
		provider *wallet.FakeProvider
		ctx      context.Context
		to       common.Address
	)

	newSubmitter := func(reconcile wallet.RetryPolicy) *wallet.Submitter {
		log := newTestLogger()
		return wallet.NewSubmitter(wallet.SubmitterConfig{
			Router:     wallet.NewRouter(provider, chain, log),
			Sequencer:  wallet.NewSequencer(log),
			Reconciler: wallet.NewReconciler(chain, 0, reconcile, log),
			Gas:        wallet.DefaultGasPolicy(),
			Confirm:    fastRetry(10),
			Log:        log,
		})
	}

	BeforeEach(func() {
		chain = wallet.NewFakeChain(testChainID)
		provider = wallet.NewFakeProvider(chain, wallet.KindInjected)
		ctx = context.Background()
		to = common.HexToAddress("0x00000000000000000000000000000000000000aa")
		_, err := provider.Connect(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	It("submits, reconciles and confirms a transaction", func() {
		s := newSubmitter(fastRetry(5))

		pending, err := s.Submit(ctx, wallet.SubmitRequest{To: &to, Value: big.NewInt(10)})
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Status).To(Equal(wallet.StatusConfirmed))
		Expect(pending.ConfirmedHash).NotTo(BeNil())
		Expect(*pending.ConfirmedHash).To(Equal(pending.SubmittedHash))

		next, err := s.Submit(ctx, wallet.SubmitRequest{To: &to, Value: big.NewInt(10)})
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Nonce).To(Equal(pending.Nonce + 1))
	})

	It("confirms against the real hash when the wallet misreports", func() {
		provider.MisreportHashes(func(actual common.Hash) common.Hash {
			return common.HexToHash("0xfeed")
		})
		s := newSubmitter(fastRetry(5))

		pending, err := s.Submit(ctx, wallet.SubmitRequest{To: &to, Value: big.NewInt(10)})
		Expect(err).NotTo(HaveOccurred())
		Expect(pending.Status).To(Equal(wallet.StatusConfirmed))
		Expect(*pending.ConfirmedHash).NotTo(Equal(pending.SubmittedHash))

		// The receipt exists only under the reconciled hash.
		_, err = chain.TransactionReceipt(ctx, *pending.ConfirmedHash)
		Expect(err).NotTo(HaveOccurred())
	})

	It("refuses to submit above the gas price ceiling", func() {
		chain.SetGasPrice(big.NewInt(400_000_000_000)) // above the 300 gwei default
		s := newSubmitter(fastRetry(5))

		_, err := s.Submit(ctx, wallet.SubmitRequest{To: &to})
		Expect(wallet.IsWalletError(err, wallet.ErrCodeGasPriceExceeded)).To(BeTrue())
		Expect(provider.SendAttempts).To(BeZero())
	})

	It("never retries a user rejection", func() {
		provider.RejectNextSend()
		s := newSubmitter(fastRetry(5))

		_, err := s.Submit(ctx, wallet.SubmitRequest{To: &to})
		Expect(wallet.IsWalletError(err, wallet.ErrCodeUserRejected)).To(BeTrue())
		Expect(provider.SendAttempts).To(Equal(1))
	})

	It("retries a nonce collision up to the attempt cap", func() {
		chain.SendErr = errors.New("nonce too low")
		s := newSubmitter(fastRetry(5))

		_, err := s.Submit(ctx, wallet.SubmitRequest{To: &to})
		Expect(wallet.IsWalletError(err, wallet.ErrCodeNonceCollision)).To(BeTrue())
		Expect(provider.SendAttempts).To(Equal(3))
	})

	It("marks the transaction failed when the receipt reverts", func() {
		// The misreport hook runs after the broadcast is mined, so it can
		// flip the receipt before the submitter ever sees the hash.
		provider.MisreportHashes(func(actual common.Hash) common.Hash {
			chain.FailReceipt(actual)
			return actual
		})
		s := newSubmitter(fastRetry(5))

		pending, err := s.Submit(ctx, wallet.SubmitRequest{To: &to})
		Expect(wallet.IsWalletError(err, wallet.ErrCodeTransactionFailed)).To(BeTrue())
		Expect(pending.Status).To(Equal(wallet.StatusFailed))
	})

	It("keeps the outcome indeterminate when the receipt wait runs out", func() {
		log := newTestLogger()
		reader := &receiptlessReader{ChainReader: chain}
		s := wallet.NewSubmitter(wallet.SubmitterConfig{
			Router:     wallet.NewRouter(provider, reader, log, wallet.WithReadRetry(fastRetry(2))),
			Sequencer:  wallet.NewSequencer(log),
			Reconciler: wallet.NewReconciler(reader, 0, fastRetry(5), log),
			Gas:        wallet.DefaultGasPolicy(),
			Confirm:    fastRetry(3),
			Log:        log,
		})

		pending, err := s.Submit(ctx, wallet.SubmitRequest{To: &to, Value: big.NewInt(10)})
		Expect(wallet.IsWalletError(err, wallet.ErrCodeTxTimeout)).To(BeTrue())
		Expect(pending.Status).To(Equal(wallet.StatusUnknown))
		Expect(pending.ConfirmedHash).NotTo(BeNil())

		// The reservation survives an indeterminate outcome; a follow-up
		// submit must not reuse the nonce.
		_, err = s.Submit(ctx, wallet.SubmitRequest{To: &to, Value: big.NewInt(10)})
		Expect(wallet.IsWalletError(err, wallet.ErrCodePendingTransaction)).To(BeTrue())
	})

	It("leaves the nonce reserved after a confirmation timeout", func() {
		chain.AutoMine = false
		provider.MisreportHashes(func(actual common.Hash) common.Hash {
			return common.Hash{} // force the scan path; nothing gets mined
		})
		slow := wallet.RetryPolicy{MaxAttempts: 100, Interval: 50 * time.Millisecond, BackoffFactor: 1}
		s := newSubmitter(slow)

		short, cancel := context.WithTimeout(ctx, 15*time.Millisecond)
		defer cancel()

		pending, err := s.Submit(short, wallet.SubmitRequest{To: &to})
		Expect(wallet.IsWalletError(err, wallet.ErrCodeTxTimeout)).To(BeTrue())
		Expect(pending.Status).To(Equal(wallet.StatusUnknown))

		// The reservation survives so out-of-band polling can finish the
		// story; a follow-up submit must not reuse the nonce.
		_, err = s.Submit(ctx, wallet.SubmitRequest{To: &to})
		Expect(wallet.IsWalletError(err, wallet.ErrCodePendingTransaction)).To(BeTrue())
	})
})
