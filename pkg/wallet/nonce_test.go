package wallet_test

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowline/walletcore/pkg/wallet"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// gatedNonceReader parks PendingNonceAt callers until released, so tests
// can interleave reservations deterministically.
type gatedNonceReader struct {
	wallet.ChainReader
	entered chan struct{}
	release chan struct{}
}

func (r *gatedNonceReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.ChainReader.PendingNonceAt(ctx, account)
}

var _ = Describe("Sequencer", func() {
	var (
		chain     *wallet.FakeChain
		sequencer *wallet.Sequencer
		sender    common.Address
		ctx       context.Context
	)

	BeforeEach(func() {
		chain = wallet.NewFakeChain(testChainID)
		sequencer = wallet.NewSequencer(newTestLogger())
		sender = common.HexToAddress("0x00000000000000000000000000000000000000b1")
		ctx = context.Background()
	})

	It("primes the first reservation from the network pending nonce", func() {
		chain.SetNonce(sender, 7)

		nonce, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())
		Expect(nonce).To(Equal(uint64(7)))
	})

	It("refuses a second reservation while one is in flight", func() {
		_, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())

		_, err = sequencer.Reserve(ctx, chain, sender)
		Expect(wallet.IsWalletError(err, wallet.ErrCodePendingTransaction)).To(BeTrue())
	})

	It("continues the local sequence after a confirmation", func() {
		chain.SetNonce(sender, 3)

		nonce, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())
		sequencer.Complete(sender, nonce, true)

		// A stale network view must not roll the sequence backward.
		chain.SetNonce(sender, 0)

		next, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal(nonce + 1))
	})

	It("re-queries the network after a failure", func() {
		nonce, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())
		sequencer.Complete(sender, nonce, false)

		chain.SetNonce(sender, 42)

		next, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(Equal(uint64(42)))
	})

	It("releases an in-flight reservation on Override", func() {
		_, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())

		sequencer.Override(sender)

		chain.SetNonce(sender, 9)
		nonce, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())
		Expect(nonce).To(Equal(uint64(9)))
	})

	It("ignores a stale network answer that loses a priming race", func() {
		chain.SetNonce(sender, 5)
		gated := &gatedNonceReader{
			ChainReader: chain,
			entered:     make(chan struct{}),
			release:     make(chan struct{}),
		}

		nonces := make(chan uint64, 1)
		go func() {
			defer GinkgoRecover()
			n, err := sequencer.Reserve(ctx, gated, sender)
			Expect(err).NotTo(HaveOccurred())
			nonces <- n
		}()
		<-gated.entered // the slow reservation is parked inside its query

		// A faster reservation primes the sequence, consumes nonce 5 and
		// confirms it before the parked query resolves.
		fast, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())
		Expect(fast).To(Equal(uint64(5)))
		sequencer.Complete(sender, fast, true)

		// The stale answer must not roll the sequence back onto the
		// consumed nonce.
		close(gated.release)
		Eventually(nonces).Should(Receive(Equal(uint64(6))))
	})

	It("tracks senders independently", func() {
		other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
		chain.SetNonce(sender, 5)
		chain.SetNonce(other, 11)

		_, err := sequencer.Reserve(ctx, chain, sender)
		Expect(err).NotTo(HaveOccurred())

		nonce, err := sequencer.Reserve(ctx, chain, other)
		Expect(err).NotTo(HaveOccurred())
		Expect(nonce).To(Equal(uint64(11)))
	})
})
