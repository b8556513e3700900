package wallet_test

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowline/walletcore/pkg/wallet"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RunSequence", func() {
	var (
		chain    *wallet.FakeChain
		provider *wallet.FakeProvider
		ctx      context.Context

		contract = common.HexToAddress("0x00000000000000000000000000000000000000e5")
		seller   = common.HexToAddress("0x00000000000000000000000000000000000000e6")
	)

	newSubmitter := func() *wallet.Submitter {
		log := newTestLogger()
		return wallet.NewSubmitter(wallet.SubmitterConfig{
			Router:     wallet.NewRouter(provider, chain, log),
			Sequencer:  wallet.NewSequencer(log),
			Reconciler: wallet.NewReconciler(chain, 0, fastRetry(5), log),
			Gas:        wallet.DefaultGasPolicy(),
			Confirm:    fastRetry(10),
			Log:        log,
		})
	}

	BeforeEach(func() {
		chain = wallet.NewFakeChain(testChainID)
		provider = wallet.NewFakeProvider(chain, wallet.KindInjected)
		ctx = context.Background()
		_, err := provider.Connect(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	It("runs the escrow funding flow in order with increasing nonces", func() {
		var agreementID [32]byte
		copy(agreementID[:], []byte("agreement-1"))

		steps, err := wallet.EscrowFundingSteps(contract, seller, agreementID, big.NewInt(1_000_000))
		Expect(err).NotTo(HaveOccurred())
		Expect(steps).To(HaveLen(3))

		result, err := newSubmitter().RunSequence(ctx, steps, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Steps).To(HaveLen(3))

		Expect(result.Steps[0].Label).To(Equal("create"))
		Expect(result.Steps[1].Label).To(Equal("approve"))
		Expect(result.Steps[2].Label).To(Equal("deposit"))
		for i := 1; i < len(result.Steps); i++ {
			Expect(result.Steps[i].Nonce).To(Equal(result.Steps[i-1].Nonce + 1))
		}
	})

	It("records reconciled hashes even when the wallet misreports every step", func() {
		provider.MisreportHashes(func(actual common.Hash) common.Hash {
			return common.HexToHash("0xbad")
		})

		var agreementID [32]byte
		steps, err := wallet.EscrowFundingSteps(contract, seller, agreementID, big.NewInt(5))
		Expect(err).NotTo(HaveOccurred())

		result, err := newSubmitter().RunSequence(ctx, steps, 0)
		Expect(err).NotTo(HaveOccurred())

		for _, step := range result.Steps {
			Expect(step.Hash).NotTo(Equal(common.HexToHash("0xbad")))
			_, err := chain.TransactionReceipt(ctx, step.Hash)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("stops at the first failing step and returns the partial result", func() {
		provider.RejectNextSend()

		var agreementID [32]byte
		steps, err := wallet.EscrowFundingSteps(contract, seller, agreementID, big.NewInt(5))
		Expect(err).NotTo(HaveOccurred())

		result, err := newSubmitter().RunSequence(ctx, steps, 0)
		Expect(wallet.IsWalletError(err, wallet.ErrCodeUserRejected)).To(BeTrue())
		Expect(result.Steps).To(BeEmpty())
		Expect(provider.SendAttempts).To(Equal(1))
	})
})
