// Package session owns the single source of truth for "is a wallet
// connected and authenticated": provider selection, the connect and
// disconnect lifecycle, backend token exchange, and token storage.
package session

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowline/walletcore/pkg/wallet"
)

// State is the session manager's lifecycle state.
type State int

const (
	// StateUninitialized is the zero state before Initialize runs
	StateUninitialized State = iota
	// StateInitializing means Initialize is in flight
	StateInitializing
	// StateRestoring means a prior session is being restored
	StateRestoring
	// StateDisconnected means no wallet session is live
	StateDisconnected
	// StateConnecting means a connect flow is in flight
	StateConnecting
	// StateConnectedUnauthenticated means the wallet is connected but the
	// backend token exchange has not completed (lazy-auth wallets)
	StateConnectedUnauthenticated
	// StateAuthenticated means the wallet is connected and the backend
	// accepted the token exchange
	StateAuthenticated
	// StateError means the last transition failed; see Session.LastError
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRestoring:
		return "restoring"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedUnauthenticated:
		return "connected-unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the process-wide wallet session value. Exactly one is live
// per Manager; it is mutated only through the Manager's transitions and
// is reset to the zero value on disconnect. Everything outside the
// Manager sees copies.
type Session struct {
	ProviderKind    wallet.ProviderKind
	Address         *common.Address
	IsConnected     bool
	IsAuthenticated bool
	AuthToken       string
	LastError       string // wallet error code of the last failure, if any
}

// copy returns a deep copy so callers cannot reach the live value.
func (s Session) copy() Session {
	out := s
	if s.Address != nil {
		addr := *s.Address
		out.Address = &addr
	}
	return out
}
