package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardCapabilitiesOnlyGrantsKVGet(t *testing.T) {
	caps := GuardCapabilities()
	require.True(t, caps.Has(CapKVGet))
	require.False(t, caps.Has(CapKVSet))
	require.False(t, caps.Has(CapNotifyEmail))
	require.False(t, caps.Has(CapFederatedRequest))
}

func TestFullActionCapabilitiesGrantsEverything(t *testing.T) {
	caps := FullActionCapabilities()
	for _, c := range []Capability{
		CapKVGet, CapKVSet, CapCryptoHash, CapCryptoSign, CapCryptoVerify,
		CapCryptoGenerateDID, CapNotifyEmail, CapNotifySMS,
		CapFederatedRequest, CapFederatedNotify,
	} {
		require.True(t, caps.Has(c), "expected %s to be granted", c)
	}
}

func TestCapabilitySetUnknownIsFalse(t *testing.T) {
	caps := NewCapabilitySet(CapKVGet)
	require.False(t, caps.Has(CapKVSet))
}
