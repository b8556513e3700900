package wallet_test

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowline/walletcore/pkg/wallet"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// flakyReader fails the first n balance reads with a transport error.
type flakyReader struct {
	*wallet.FakeChain
	failures int
}

func (f *flakyReader) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset by peer")
	}
	return f.FakeChain.BalanceAt(ctx, account, blockNumber)
}

var _ = Describe("Router", func() {
	var (
		chain    *wallet.FakeChain
		provider *wallet.FakeProvider
		ctx      context.Context
	)

	BeforeEach(func() {
		chain = wallet.NewFakeChain(testChainID)
		provider = wallet.NewFakeProvider(chain, wallet.KindInjected)
		ctx = context.Background()
		_, err := provider.Connect(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	Context("read path", func() {
		It("serves reads from the trusted endpoint regardless of wallet capabilities", func() {
			provider.SetCapabilities(wallet.NewCapabilitySet()) // wallet can do nothing
			account := common.HexToAddress("0x00000000000000000000000000000000000000c1")
			chain.SetBalance(account, big.NewInt(1234))

			router := wallet.NewRouter(provider, chain, newTestLogger())
			balance, err := router.BalanceAt(ctx, account, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(balance).To(Equal(big.NewInt(1234)))
		})

		It("retries transient read failures transparently", func() {
			account := common.HexToAddress("0x00000000000000000000000000000000000000c2")
			chain.SetBalance(account, big.NewInt(77))
			reader := &flakyReader{FakeChain: chain, failures: 2}

			router := wallet.NewRouter(provider, reader, newTestLogger(),
				wallet.WithReadRetry(fastRetry(3)))
			balance, err := router.BalanceAt(ctx, account, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(balance).To(Equal(big.NewInt(77)))
		})

		It("gives up after the bounded retry budget", func() {
			reader := &flakyReader{FakeChain: chain, failures: 10}

			router := wallet.NewRouter(provider, reader, newTestLogger(),
				wallet.WithReadRetry(fastRetry(3)))
			_, err := router.BalanceAt(ctx, common.Address{}, nil)
			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCError)).To(BeTrue())
			Expect(reader.failures).To(Equal(7))
		})
	})

	Context("write path", func() {
		It("sends through a wallet that broadcasts itself", func() {
			router := wallet.NewRouter(provider, chain, newTestLogger())
			hash, err := router.SendTransaction(ctx, transferTx(0))
			Expect(err).NotTo(HaveOccurred())

			_, _, err = chain.TransactionByHash(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
		})

		It("broadcasts a sign-only wallet's bytes over the trusted endpoint", func() {
			provider.SetCapabilities(wallet.NewCapabilitySet(wallet.CapSignTransaction))

			router := wallet.NewRouter(provider, chain, newTestLogger())
			hash, err := router.SendTransaction(ctx, transferTx(0))
			Expect(err).NotTo(HaveOccurred())

			tx, _, err := chain.TransactionByHash(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(tx.Nonce()).To(Equal(uint64(0)))
		})

		It("fails with CAPABILITY_MISSING when the wallet cannot write at all", func() {
			provider.SetCapabilities(wallet.NewCapabilitySet(wallet.CapSignMessage))

			router := wallet.NewRouter(provider, chain, newTestLogger())
			_, err := router.SendTransaction(ctx, transferTx(0))
			Expect(wallet.IsWalletError(err, wallet.ErrCodeCapabilityMissing)).To(BeTrue())
		})

		It("forwards message signing to the wallet", func() {
			router := wallet.NewRouter(provider, chain, newTestLogger())
			sig, err := router.SignMessage(ctx, []byte("challenge"))
			Expect(err).NotTo(HaveOccurred())
			Expect(sig).To(HaveLen(65))
		})
	})

	Context("untyped requests", func() {
		It("routes write methods to the wallet", func() {
			router := wallet.NewRouter(provider, chain, newTestLogger())
			_, err := router.Request(ctx, "wallet_switchEthereumChain", map[string]string{"chainId": "0x539"})
			Expect(err).NotTo(HaveOccurred())
			Expect(provider.LastRawMethod).To(Equal("wallet_switchEthereumChain"))
		})

		It("refuses read methods without a trusted raw endpoint", func() {
			router := wallet.NewRouter(provider, chain, newTestLogger())
			_, err := router.Request(ctx, "eth_getBalance", common.Address{}, "latest")
			Expect(wallet.IsWalletError(err, wallet.ErrCodeRPCError)).To(BeTrue())
			Expect(provider.LastRawMethod).To(BeEmpty())
		})
	})
})
