package kv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeInt64PreservesOrder(t *testing.T) {
	values := []int64{-100, -1, 0, 1, 42, 1000}
	var encoded []string
	for _, v := range values {
		encoded = append(encoded, EncodeInt64(v))
	}
	for i := 1; i < len(encoded); i++ {
		require.True(t, encoded[i-1] < encoded[i], "expected %d < %d in byte order", values[i-1], values[i])
	}
}

func TestEncodeUint64PreservesOrder(t *testing.T) {
	values := []uint64{0, 1, 42, 1000, 1 << 40}
	var encoded []string
	for _, v := range values {
		encoded = append(encoded, EncodeUint64(v))
	}
	for i := 1; i < len(encoded); i++ {
		require.True(t, encoded[i-1] < encoded[i], "expected %d < %d in byte order", values[i-1], values[i])
	}
}

func TestEncodeDescendingInt32HigherSortsFirst(t *testing.T) {
	high := EncodeDescendingInt32(10)
	low := EncodeDescendingInt32(1)
	require.True(t, high < low)
}

func TestPrefixRangeSelectsOnlyMatchingKeys(t *testing.T) {
	begin, end := PrefixRange(Key("workflows/de.berlin/x"))
	inside := Key("workflows/de.berlin/x/1")
	outside := Key("workflows/de.berlin/y")

	require.True(t, bytes.Compare(inside, begin) >= 0 && bytes.Compare(inside, end) < 0)
	require.False(t, bytes.Compare(outside, begin) >= 0 && bytes.Compare(outside, end) < 0)
}

func TestTupleJoinsSegments(t *testing.T) {
	require.Equal(t, Key("instances/abc-123"), Tuple("instances", "abc-123"))
}
