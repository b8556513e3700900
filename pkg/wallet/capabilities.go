package wallet

import "sort"

// ProviderKind identifies which class of wallet backs a provider.
type ProviderKind string

const (
	// KindInjected is an external wallet reachable over a JSON-RPC bridge,
	// holding its own keys and prompting the user for every signature.
	KindInjected ProviderKind = "injected"
	// KindEmbedded is a social-login-backed account whose key material is
	// held in process; it signs headlessly without prompts.
	KindEmbedded ProviderKind = "embedded"
	// KindRemoteRelay is a wallet-connect style remote signer paired over a
	// relay; its address arrives asynchronously via a session event.
	KindRemoteRelay ProviderKind = "remote-relay"
)

// Capability names an optional provider operation. Providers declare their
// capability set at construction time; callers branch on the declared set
// instead of probing for methods at runtime.
type Capability string

const (
	// CapSignMessage is personal-message signing
	CapSignMessage Capability = "sign-message"
	// CapSignTransaction is offline transaction signing returning raw bytes
	CapSignTransaction Capability = "sign-transaction"
	// CapSendTransaction is sign-and-broadcast performed by the wallet
	CapSendTransaction Capability = "send-transaction"
	// CapRawRequest is untyped JSON-RPC passthrough to the wallet
	CapRawRequest Capability = "raw-request"
	// CapReadBalance is native balance retrieval through the wallet
	CapReadBalance Capability = "read-balance"
)

// CapabilitySet is the set of operations a provider declares support for.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether the capability is declared.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// List returns the declared capabilities in stable order, for logging.
func (s CapabilitySet) List() []string {
	out := make([]string, 0, len(s))
	for c, ok := range s {
		if ok {
			out = append(out, string(c))
		}
	}
	sort.Strings(out)
	return out
}
