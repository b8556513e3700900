package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/escrowline/walletcore/pkg/metrics"
	"github.com/escrowline/walletcore/pkg/wallet"
)

// Config collects the Manager's collaborators. Providers maps every
// selectable wallet kind to its adapter; DefaultKind is the one session
// restoration probes at startup.
type Config struct {
	Providers   map[wallet.ProviderKind]wallet.Provider
	DefaultKind wallet.ProviderKind
	Reader      wallet.ChainReader
	Auth        AuthAPI
	Tokens      *TokenStore
	Metrics     *metrics.WalletMetrics // may be nil
	RouterOpts  []wallet.RouterOption

	// OnSessionReplaced fires exactly once per successful connect with a
	// copy of the fresh session; it never merges with stale fields.
	OnSessionReplaced func(Session)

	Log *logrus.Logger
}

// Manager orchestrates provider selection, connect/disconnect lifecycle
// and backend token exchange. It is the sole mutator of the Session
// value; everything else gets copies. Construct one per process; tests
// construct independent instances instead of resetting a global.
type Manager struct {
	cfg Config

	mu             sync.Mutex
	state          State
	session        Session
	active         wallet.Provider
	router         *wallet.Router
	restorePending bool
	epoch          uint64 // bumped by connect/disconnect; stale flows abandon
}

// NewManager creates a Manager in the Uninitialized state.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if cfg.Auth == nil || cfg.Tokens == nil || cfg.Reader == nil {
		return nil, fmt.Errorf("auth client, token store and chain reader are required")
	}
	if _, ok := cfg.Providers[cfg.DefaultKind]; !ok {
		return nil, fmt.Errorf("default provider kind %q not registered", cfg.DefaultKind)
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	return &Manager{cfg: cfg}, nil
}

// Status returns the lifecycle state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a copy of the live session.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.copy()
}

// Initialize probes the default provider for a restorable session. It is
// idempotent: any call after the first (including while a restore or
// connect is mid-flight) returns immediately without side effects.
//
// A provider that answers "not ready yet" is NOT committed as
// disconnected: the restore is re-attempted lazily on the first
// subsequent Router or Token call instead of only here. Only an
// authoritative "no accounts" answer settles the question.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	provider := m.cfg.Providers[m.cfg.DefaultKind]
	m.active = provider
	m.mu.Unlock()

	connected, err := provider.IsConnected(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case wallet.IsWalletError(err, wallet.ErrCodeProviderNotReady):
		m.restorePending = true
		m.state = StateDisconnected
		m.cfg.Log.WithField("provider", provider.Kind()).
			Debug("Provider restore still in flight, will retry on first use")
		return nil
	case err != nil:
		m.state = StateDisconnected
		m.session.LastError = wallet.ErrorCode(err)
		return err
	case !connected:
		m.state = StateDisconnected
		return nil
	}

	m.restoreLocked(provider)
	return nil
}

// restoreLocked rebuilds the session from a provider that reports itself
// connected. Restoration never fires OnSessionReplaced; only an explicit
// connect does.
func (m *Manager) restoreLocked(provider wallet.Provider) {
	addr, err := provider.Address()
	if err != nil {
		m.state = StateDisconnected
		return
	}

	token := m.cfg.Tokens.Load()
	m.session = Session{
		ProviderKind:    provider.Kind(),
		Address:         &addr,
		IsConnected:     true,
		IsAuthenticated: token != "",
		AuthToken:       token,
	}
	if token != "" {
		m.state = StateAuthenticated
	} else {
		m.state = StateConnectedUnauthenticated
	}

	m.cfg.Log.WithFields(logrus.Fields{
		"provider": provider.Kind(),
		"address":  addr.Hex(),
		"state":    m.state.String(),
	}).Info("Session restored")
}

// retryRestore runs the deferred restore left behind by Initialize when
// the provider was not ready yet.
func (m *Manager) retryRestore(ctx context.Context) {
	m.mu.Lock()
	if !m.restorePending || m.active == nil {
		m.mu.Unlock()
		return
	}
	provider := m.active
	m.mu.Unlock()

	connected, err := provider.IsConnected(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.restorePending {
		return // a connect or disconnect settled things meanwhile
	}
	if wallet.IsWalletError(err, wallet.ErrCodeProviderNotReady) {
		return // still not ready; keep deferring
	}
	m.restorePending = false
	if err != nil || !connected {
		return
	}
	m.restoreLocked(provider)
}

// Connect runs the full connect flow for the given provider kind:
// adapter connect, challenge nonce, signature, backend token exchange.
// On success the session is replaced wholesale and OnSessionReplaced
// fires once. On failure every partially-set field is rolled back, so no
// half-authenticated session is ever observable. A connect superseded by
// a newer connect or a disconnect abandons its result.
func (m *Manager) Connect(ctx context.Context, kind wallet.ProviderKind) error {
	m.mu.Lock()
	provider, ok := m.cfg.Providers[kind]
	if !ok {
		m.mu.Unlock()
		return wallet.NewWalletError(wallet.ErrCodeNotConnected, "no provider registered for kind", nil, kind)
	}
	m.epoch++
	myEpoch := m.epoch
	m.state = StateConnecting
	m.session = Session{}
	m.active = provider
	m.router = nil
	m.restorePending = false
	m.mu.Unlock()

	addr, err := provider.Connect(ctx)
	if err != nil {
		return m.failConnect(myEpoch, kind, err)
	}

	token, authenticated, err := m.exchangeToken(ctx, provider, addr)
	if err != nil {
		return m.failConnect(myEpoch, kind, err)
	}

	m.mu.Lock()
	if m.epoch != myEpoch {
		m.mu.Unlock()
		return wallet.NewWalletError(wallet.ErrCodeNotConnected, "connect attempt superseded", nil, kind)
	}

	if token != "" {
		if err := m.cfg.Tokens.Save(token, true); err != nil {
			m.mu.Unlock()
			return m.failConnect(myEpoch, kind, err)
		}
	}

	m.session = Session{
		ProviderKind:    kind,
		Address:         &addr,
		IsConnected:     true,
		IsAuthenticated: authenticated,
		AuthToken:       token,
	}
	if authenticated {
		m.state = StateAuthenticated
	} else {
		m.state = StateConnectedUnauthenticated
	}
	snapshot := m.session.copy()
	cb := m.cfg.OnSessionReplaced
	m.mu.Unlock()

	m.countConnect(kind, "ok")
	m.cfg.Log.WithFields(logrus.Fields{
		"provider": kind,
		"address":  addr.Hex(),
		"state":    m.Status().String(),
	}).Info("Wallet connected")

	if cb != nil {
		cb(snapshot)
	}
	return nil
}

// exchangeToken performs the challenge/signature/login exchange. The
// LazyAuthNonce sentinel short-circuits it: the wallet kind cannot sign
// headlessly without a disruptive prompt, so authentication is deferred
// to the first call that needs the token (see Token).
func (m *Manager) exchangeToken(ctx context.Context, provider wallet.Provider, addr common.Address) (string, bool, error) {
	nonce, err := m.cfg.Auth.FetchNonce(ctx, addr)
	if err != nil {
		return "", false, err
	}
	if nonce == LazyAuthNonce {
		return "", false, nil
	}

	message := challengeMessage(addr, nonce)
	sig, err := provider.SignMessage(ctx, []byte(message))
	if err != nil {
		return "", false, err
	}

	token, err := m.cfg.Auth.Login(ctx, LoginRequest{
		Message:   message,
		Signature: hexutil.Encode(sig),
	})
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// failConnect rolls the session back after a failed connect flow, unless
// a newer connect already took over.
func (m *Manager) failConnect(myEpoch uint64, kind wallet.ProviderKind, cause error) error {
	m.mu.Lock()
	if m.epoch == myEpoch {
		m.session = Session{LastError: wallet.ErrorCode(cause)}
		m.state = StateError
		m.router = nil
	}
	m.mu.Unlock()

	m.countConnect(kind, "error")
	m.cfg.Log.WithFields(logrus.Fields{
		"provider": kind,
		"error":    cause,
	}).Error("Wallet connect failed")
	return cause
}

// Disconnect tears the session down: adapter disconnect and backend
// logout first, then token erasure from every storage location, then the
// session reset and cached router drop. The local steps run even when
// the adapter throws: disconnect is best effort outward but
// unconditional for local state.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++ // any in-flight connect abandons its result
	provider := m.active
	token := m.session.AuthToken
	m.mu.Unlock()

	if provider != nil {
		if err := provider.Disconnect(ctx); err != nil {
			m.cfg.Log.WithError(err).Warn("Adapter disconnect failed, clearing local state anyway")
		}
	}
	if token != "" {
		if err := m.cfg.Auth.Logout(ctx, token); err != nil {
			m.cfg.Log.WithError(err).Warn("Backend logout failed, clearing local state anyway")
		}
	}

	clearErr := m.cfg.Tokens.Clear()

	m.mu.Lock()
	m.session = Session{}
	m.state = StateDisconnected
	m.router = nil
	m.active = nil
	m.restorePending = false
	m.mu.Unlock()

	m.cfg.Log.Info("Wallet disconnected")
	return clearErr
}

// Router returns the read/write-routed provider for the live session,
// building and caching it on first use. When Initialize left a restore
// pending it is retried here first; this is the lazy path that rescues
// sessions whose provider was still restoring at startup.
func (m *Manager) Router(ctx context.Context) (*wallet.Router, error) {
	m.mu.Lock()
	pending := m.restorePending
	m.mu.Unlock()
	if pending {
		m.retryRestore(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || !m.session.IsConnected {
		return nil, wallet.NewWalletError(wallet.ErrCodeNotConnected, "no wallet session", nil, "")
	}
	if m.router == nil {
		m.router = wallet.NewRouter(m.active, m.cfg.Reader, m.cfg.Log, m.cfg.RouterOpts...)
	}
	return m.router, nil
}

// Token returns the backend auth token, performing the deferred exchange
// for lazy-auth sessions on first use.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	pending := m.restorePending
	m.mu.Unlock()
	if pending {
		m.retryRestore(ctx)
	}

	m.mu.Lock()
	if !m.session.IsConnected {
		m.mu.Unlock()
		return "", wallet.NewWalletError(wallet.ErrCodeNotConnected, "no wallet session", nil, "")
	}
	if m.session.AuthToken != "" {
		token := m.session.AuthToken
		m.mu.Unlock()
		return token, nil
	}
	provider := m.active
	addr := *m.session.Address
	myEpoch := m.epoch
	m.mu.Unlock()

	// Deferred lazy-auth exchange; the session lock is not held across
	// the signing prompt or the backend round trip.
	nonce, err := m.cfg.Auth.FetchNonce(ctx, addr)
	if err != nil {
		return "", err
	}
	if nonce == LazyAuthNonce {
		nonce = "" // backend insists on lazy auth but a token is required now
	}

	message := challengeMessage(addr, nonce)
	sig, err := provider.SignMessage(ctx, []byte(message))
	if err != nil {
		return "", err
	}
	token, err := m.cfg.Auth.Login(ctx, LoginRequest{Message: message, Signature: hexutil.Encode(sig)})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != myEpoch {
		return "", wallet.NewWalletError(wallet.ErrCodeNotConnected, "session replaced during authentication", nil, "")
	}
	if err := m.cfg.Tokens.Save(token, true); err != nil {
		return "", err
	}
	m.session.AuthToken = token
	m.session.IsAuthenticated = true
	m.state = StateAuthenticated
	return token, nil
}

func (m *Manager) countConnect(kind wallet.ProviderKind, status string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncConnect(string(kind), status)
	}
}

// challengeMessage renders the SIWE-style text the wallet signs.
func challengeMessage(addr common.Address, nonce string) string {
	return fmt.Sprintf("Sign in to Escrowline with your wallet.\n\nAddress: %s\nNonce: %s", addr.Hex(), nonce)
}
