package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// RelayEventType discriminates events arriving from a relay transport.
type RelayEventType string

const (
	// RelayEventSessionApproved carries the wallet address after pairing
	RelayEventSessionApproved RelayEventType = "session-approved"
	// RelayEventSessionRejected signals the user declined the pairing
	RelayEventSessionRejected RelayEventType = "session-rejected"
	// RelayEventSessionClosed signals the remote wallet ended the session
	RelayEventSessionClosed RelayEventType = "session-closed"
	// RelayEventResponse answers a previously sent RelayRequest
	RelayEventResponse RelayEventType = "response"
)

// RelayEvent is a message pushed by the relay transport.
type RelayEvent struct {
	Type      RelayEventType
	Address   common.Address  // set on session-approved
	RequestID uint64          // set on response
	Result    json.RawMessage // set on response
	Error     string          // non-empty when the wallet returned an error
}

// RelayRequest is a signing request sent to the remote wallet.
type RelayRequest struct {
	ID     uint64
	Method string
	Params []interface{}
}

// RelayTransport is the pairing/messaging channel to a remote wallet.
// Events must be delivered on a single channel; the provider owns the
// consuming goroutine.
type RelayTransport interface {
	OpenPairing(ctx context.Context) error
	Send(ctx context.Context, req RelayRequest) error
	Events() <-chan RelayEvent
	Close() error
}

// RelayRestorer is optionally implemented by transports that restore a
// prior pairing asynchronously at startup.
type RelayRestorer interface {
	Restoring() bool
}

// connectAttempt is a one-shot future for an in-flight connect. It
// resolves exactly once; a superseding connect resolves the old attempt
// with an error before starting its own.
type connectAttempt struct {
	done chan struct{}
	once sync.Once
	addr common.Address
	err  error
}

func (a *connectAttempt) resolve(addr common.Address, err error) {
	a.once.Do(func() {
		a.addr = addr
		a.err = err
		close(a.done)
	})
}

// RemoteRelayProvider adapts a wallet-connect style remote signer. The
// address is not returned by the connect call itself; it arrives as a
// session event, which the provider turns back into a blocking Connect.
type RemoteRelayProvider struct {
	transport RelayTransport
	log       *logrus.Logger
	caps      CapabilitySet

	nextID uint64

	mu        sync.Mutex
	address   common.Address
	connected bool
	attempt   *connectAttempt
	pending   map[uint64]chan RelayEvent

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRemoteRelayProvider creates a relay-backed provider and starts its
// event loop.
func NewRemoteRelayProvider(transport RelayTransport, log *logrus.Logger) *RemoteRelayProvider {
	p := &RemoteRelayProvider{
		transport: transport,
		log:       log,
		caps: NewCapabilitySet(
			CapSignMessage,
			CapSendTransaction,
			CapRawRequest,
		),
		pending: make(map[uint64]chan RelayEvent),
		stop:    make(chan struct{}),
	}
	go p.eventLoop()
	return p
}

// eventLoop routes transport events to the in-flight connect attempt and
// to pending request waiters.
func (p *RemoteRelayProvider) eventLoop() {
	for {
		select {
		case <-p.stop:
			return
		case ev, ok := <-p.transport.Events():
			if !ok {
				return
			}
			p.dispatch(ev)
		}
	}
}

func (p *RemoteRelayProvider) dispatch(ev RelayEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case RelayEventSessionApproved:
		p.address = ev.Address
		p.connected = true
		if p.attempt != nil {
			p.attempt.resolve(ev.Address, nil)
			p.attempt = nil
		}
	case RelayEventSessionRejected:
		if p.attempt != nil {
			p.attempt.resolve(common.Address{},
				NewWalletError(ErrCodeUserRejected, "pairing rejected by user", nil, KindRemoteRelay))
			p.attempt = nil
		}
	case RelayEventSessionClosed:
		p.connected = false
		p.address = common.Address{}
	case RelayEventResponse:
		if ch, ok := p.pending[ev.RequestID]; ok {
			delete(p.pending, ev.RequestID)
			ch <- ev
		}
	}
}

// Kind returns KindRemoteRelay.
func (p *RemoteRelayProvider) Kind() ProviderKind { return KindRemoteRelay }

// Capabilities returns the declared capability set.
func (p *RemoteRelayProvider) Capabilities() CapabilitySet { return p.caps }

// Connect opens a pairing and blocks until the wallet approves, rejects,
// or ctx expires. Starting a new connect while one is in flight resolves
// the old attempt with an error first; only the newest attempt can win.
func (p *RemoteRelayProvider) Connect(ctx context.Context) (common.Address, error) {
	attempt := &connectAttempt{done: make(chan struct{})}

	p.mu.Lock()
	if p.attempt != nil {
		p.attempt.resolve(common.Address{},
			NewWalletError(ErrCodeNotConnected, "connect attempt superseded", nil, KindRemoteRelay))
	}
	p.attempt = attempt
	p.mu.Unlock()

	if err := p.transport.OpenPairing(ctx); err != nil {
		p.clearAttempt(attempt)
		return common.Address{}, NewWalletError(ErrCodeRPCError, "pairing failed", err, KindRemoteRelay)
	}

	select {
	case <-ctx.Done():
		p.clearAttempt(attempt)
		return common.Address{}, NewWalletError(ErrCodeTxTimeout, "pairing not approved in time", ctx.Err(), KindRemoteRelay)
	case <-attempt.done:
		return attempt.addr, attempt.err
	}
}

func (p *RemoteRelayProvider) clearAttempt(attempt *connectAttempt) {
	p.mu.Lock()
	if p.attempt == attempt {
		p.attempt = nil
	}
	p.mu.Unlock()
}

// Address returns the address delivered by the pairing event.
func (p *RemoteRelayProvider) Address() (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return common.Address{}, errNotConnected(KindRemoteRelay)
	}
	return p.address, nil
}

// IsConnected reports the relay session state. While the transport is
// still restoring a prior pairing the answer is not yet known, which is
// surfaced as PROVIDER_NOT_READY instead of false.
func (p *RemoteRelayProvider) IsConnected(_ context.Context) (bool, error) {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()

	if connected {
		return true, nil
	}
	if r, ok := p.transport.(RelayRestorer); ok && r.Restoring() {
		return false, NewWalletError(ErrCodeProviderNotReady, "relay session restore in flight", nil, KindRemoteRelay)
	}
	return false, nil
}

// request round-trips one signing request through the relay.
func (p *RemoteRelayProvider) request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if _, err := p.Address(); err != nil {
		return nil, err
	}

	id := atomic.AddUint64(&p.nextID, 1)
	ch := make(chan RelayEvent, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.transport.Send(ctx, RelayRequest{ID: id, Method: method, Params: params}); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, NewWalletError(ErrCodeRPCError, "relay send failed", err, KindRemoteRelay)
	}

	select {
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, NewWalletError(ErrCodeTxTimeout, "relay response not received in time", ctx.Err(), KindRemoteRelay)
	case ev := <-ch:
		if ev.Error != "" {
			return nil, classifyProviderError(errors.New(ev.Error), KindRemoteRelay, method+" failed")
		}
		return ev.Result, nil
	}
}

// SignMessage signs a personal message through the relay.
func (p *RemoteRelayProvider) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	addr, err := p.Address()
	if err != nil {
		return nil, err
	}

	raw, err := p.request(ctx, "personal_sign", hexutil.Encode(msg), addr.Hex())
	if err != nil {
		return nil, err
	}

	var sig hexutil.Bytes
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, NewWalletError(ErrCodeRPCError, "malformed signature from relay", err, KindRemoteRelay)
	}
	return sig, nil
}

// SignTransaction is not declared; relay wallets broadcast themselves.
func (p *RemoteRelayProvider) SignTransaction(_ context.Context, _ *types.Transaction) ([]byte, error) {
	return nil, errCapabilityMissing(KindRemoteRelay, CapSignTransaction)
}

// SendTransaction submits tx through the relay and returns the hash the
// remote wallet reports. Mobile relay wallets are the documented source
// of wrong-hash responses, so this value is never trusted as final.
func (p *RemoteRelayProvider) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	addr, err := p.Address()
	if err != nil {
		return common.Hash{}, err
	}

	raw, err := p.request(ctx, "eth_sendTransaction", txToSendArgs(tx, addr))
	if err != nil {
		return common.Hash{}, err
	}

	var reported string
	if err := json.Unmarshal(raw, &reported); err != nil {
		return common.Hash{}, NewWalletError(ErrCodeRPCError, "malformed hash from relay", err, KindRemoteRelay)
	}

	hash := common.HexToHash(reported)
	p.log.WithFields(logrus.Fields{
		"provider": KindRemoteRelay,
		"tx_hash":  hash.Hex(),
		"nonce":    tx.Nonce(),
	}).Debug("Relay wallet reported transaction hash")

	return hash, nil
}

// Request forwards an untyped call through the relay.
func (p *RemoteRelayProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	return p.request(ctx, method, params...)
}

// Disconnect closes the relay session and stops the event loop.
func (p *RemoteRelayProvider) Disconnect(_ context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.address = common.Address{}
	if p.attempt != nil {
		p.attempt.resolve(common.Address{},
			NewWalletError(ErrCodeNotConnected, "disconnected during connect", nil, KindRemoteRelay))
		p.attempt = nil
	}
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stop) })
	return p.transport.Close()
}

// txToSendArgs converts a built transaction into the JSON-RPC argument
// object wallets expect for eth_sendTransaction.
func txToSendArgs(tx *types.Transaction, from common.Address) map[string]interface{} {
	args := map[string]interface{}{
		"from":     from.Hex(),
		"gas":      hexutil.Uint64(tx.Gas()),
		"gasPrice": (*hexutil.Big)(tx.GasPrice()),
		"value":    (*hexutil.Big)(tx.Value()),
		"nonce":    hexutil.Uint64(tx.Nonce()),
		"data":     hexutil.Encode(tx.Data()),
	}
	if to := tx.To(); to != nil {
		args["to"] = to.Hex()
	}
	return args
}
