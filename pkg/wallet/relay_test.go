package wallet_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowline/walletcore/pkg/wallet"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeTransport is a scriptable relay channel.
type fakeTransport struct {
	events chan wallet.RelayEvent

	mu        sync.Mutex
	sent      []wallet.RelayRequest
	opens     int
	restoring bool
	closed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan wallet.RelayEvent, 8)}
}

func (t *fakeTransport) OpenPairing(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	return nil
}

func (t *fakeTransport) Send(_ context.Context, req wallet.RelayRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, req)
	return nil
}

func (t *fakeTransport) Events() <-chan wallet.RelayEvent { return t.events }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) Restoring() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restoring
}

func (t *fakeTransport) setRestoring(restoring bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restoring = restoring
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) lastRequest() (wallet.RelayRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return wallet.RelayRequest{}, false
	}
	return t.sent[len(t.sent)-1], true
}

var _ = Describe("RemoteRelayProvider", func() {
	var (
		transport *fakeTransport
		p         *wallet.RemoteRelayProvider
		ctx       context.Context
		addr      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	)

	BeforeEach(func() {
		transport = newFakeTransport()
		p = wallet.NewRemoteRelayProvider(transport, newTestLogger())
		ctx = context.Background()
	})

	AfterEach(func() {
		_ = p.Disconnect(ctx)
	})

	It("blocks Connect until the pairing is approved", func() {
		type outcome struct {
			addr common.Address
			err  error
		}
		result := make(chan outcome, 1)
		go func() {
			a, err := p.Connect(ctx)
			result <- outcome{a, err}
		}()

		Eventually(transport.openCount).Should(Equal(1))
		transport.events <- wallet.RelayEvent{Type: wallet.RelayEventSessionApproved, Address: addr}

		var got outcome
		Eventually(result).Should(Receive(&got))
		Expect(got.err).NotTo(HaveOccurred())
		Expect(got.addr).To(Equal(addr))

		connected, err := p.IsConnected(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(connected).To(BeTrue())
	})

	It("surfaces a rejected pairing as USER_REJECTED", func() {
		errs := make(chan error, 1)
		go func() {
			_, err := p.Connect(ctx)
			errs <- err
		}()

		Eventually(transport.openCount).Should(Equal(1))
		transport.events <- wallet.RelayEvent{Type: wallet.RelayEventSessionRejected}

		var err error
		Eventually(errs).Should(Receive(&err))
		Expect(wallet.IsWalletError(err, wallet.ErrCodeUserRejected)).To(BeTrue())
	})

	It("lets a newer connect supersede an older one", func() {
		firstErr := make(chan error, 1)
		go func() {
			_, err := p.Connect(ctx)
			firstErr <- err
		}()
		Eventually(transport.openCount).Should(Equal(1))

		type outcome struct {
			addr common.Address
			err  error
		}
		second := make(chan outcome, 1)
		go func() {
			a, err := p.Connect(ctx)
			second <- outcome{a, err}
		}()
		Eventually(transport.openCount).Should(Equal(2))

		// The older attempt resolves with an error the moment the newer one
		// starts; the approval belongs to the newest attempt only.
		var err error
		Eventually(firstErr).Should(Receive(&err))
		Expect(wallet.IsWalletError(err, wallet.ErrCodeNotConnected)).To(BeTrue())

		transport.events <- wallet.RelayEvent{Type: wallet.RelayEventSessionApproved, Address: addr}
		var got outcome
		Eventually(second).Should(Receive(&got))
		Expect(got.err).NotTo(HaveOccurred())
		Expect(got.addr).To(Equal(addr))
	})

	It("fails Connect with TX_TIMEOUT when the caller gives up", func() {
		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := p.Connect(short)
		Expect(wallet.IsWalletError(err, wallet.ErrCodeTxTimeout)).To(BeTrue())
	})

	It("reports PROVIDER_NOT_READY while the transport restores", func() {
		transport.setRestoring(true)

		_, err := p.IsConnected(ctx)
		Expect(wallet.IsWalletError(err, wallet.ErrCodeProviderNotReady)).To(BeTrue())
	})

	It("round-trips a send through the relay and reports the wallet's hash", func() {
		go func() {
			defer GinkgoRecover()
			Eventually(transport.openCount).Should(Equal(1))
			transport.events <- wallet.RelayEvent{Type: wallet.RelayEventSessionApproved, Address: addr}
		}()
		_, err := p.Connect(ctx)
		Expect(err).NotTo(HaveOccurred())

		reported := common.HexToHash("0xabc123")
		go func() {
			defer GinkgoRecover()
			Eventually(func() bool {
				_, ok := transport.lastRequest()
				return ok
			}).Should(BeTrue())
			req, _ := transport.lastRequest()
			Expect(req.Method).To(Equal("eth_sendTransaction"))

			payload, err := json.Marshal(reported.Hex())
			Expect(err).NotTo(HaveOccurred())
			transport.events <- wallet.RelayEvent{
				Type:      wallet.RelayEventResponse,
				RequestID: req.ID,
				Result:    payload,
			}
		}()

		hash, err := p.SendTransaction(ctx, transferTx(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(hash).To(Equal(reported))
	})

	It("treats a session-closed event as an authoritative disconnect", func() {
		go func() {
			defer GinkgoRecover()
			Eventually(transport.openCount).Should(Equal(1))
			transport.events <- wallet.RelayEvent{Type: wallet.RelayEventSessionApproved, Address: addr}
		}()
		_, err := p.Connect(ctx)
		Expect(err).NotTo(HaveOccurred())

		transport.events <- wallet.RelayEvent{Type: wallet.RelayEventSessionClosed}

		Eventually(func() (bool, error) { return p.IsConnected(ctx) }).Should(BeFalse())
	})
})
