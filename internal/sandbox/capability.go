// Package sandbox runs Action::Script (§3, §4.2) inside an isolated,
// capability-scoped JavaScript runtime. Every evaluation gets a fresh
// goja.Runtime; nothing is shared across evaluations, and the host API
// surface a script can reach is determined entirely by the CapabilitySet
// it is evaluated with.
package sandbox

// Capability names one host API function family a script may be granted
// access to. Deny-by-default: a Capability not present in the set a
// script is evaluated with is never bound into its runtime at all.
type Capability string

const (
	CapKVGet             Capability = "kv.get"
	CapKVSet             Capability = "kv.set"
	CapCryptoHash        Capability = "crypto.hash"
	CapCryptoSign        Capability = "crypto.sign"
	CapCryptoVerify      Capability = "crypto.verify"
	CapCryptoGenerateDID Capability = "crypto.generate_did"
	CapNotifyEmail       Capability = "notify.email"
	CapNotifySMS         Capability = "notify.sms"
	CapFederatedRequest  Capability = "federated.request"
	CapFederatedNotify   Capability = "federated.notify"
)

// CapabilitySet is the set of capabilities one evaluation is granted.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether cap is granted.
func (s CapabilitySet) Has(cap Capability) bool {
	return s[cap]
}

// GuardCapabilities is the reduced set a transition guard evaluates
// with: read-only KV access, nothing else. Guards must be
// side-effect-free (§3's Transition invariant), so kv.set, crypto,
// notify and federated are never bound into a guard's runtime.
func GuardCapabilities() CapabilitySet {
	return NewCapabilitySet(CapKVGet)
}

// FullActionCapabilities is the complete set a non-guard Script action
// runs with unless the caller narrows it further.
func FullActionCapabilities() CapabilitySet {
	return NewCapabilitySet(
		CapKVGet, CapKVSet,
		CapCryptoHash, CapCryptoSign, CapCryptoVerify, CapCryptoGenerateDID,
		CapNotifyEmail, CapNotifySMS,
		CapFederatedRequest, CapFederatedNotify,
	)
}
