package kv

import (
	"encoding/binary"
	"math"
	"strings"
)

// Key is an ordered byte-string key. Keys compare with bytes.Compare the
// same way the underlying KV store orders them, so tuple segments are
// encoded to preserve the intended sort order (FoundationDB tuple-layer
// style, simplified to the primitive types §6.3 actually needs).
type Key []byte

// Tuple builds a Key out of path segments joined the way the keyspace in
// §6.3 is described ("workflows/{id}/{version}"): plain strings are
// separated by "/"; callers that need numeric byte-ordering use
// EncodeInt64/EncodeDescendingInt32 for those segments instead of
// fmt.Sprintf so lexicographic byte order matches numeric order.
func Tuple(segments ...string) Key {
	return Key(strings.Join(segments, "/"))
}

// EncodeInt64 big-endian-encodes v, offset so that byte comparison orders
// values the same way numeric comparison would (including negative v).
func EncodeInt64(v int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)^(1<<63))
	return string(buf[:])
}

// EncodeUint64 big-endian-encodes v so byte comparison orders values the
// same way numeric comparison would. Used for the monotonic `seq`
// component of event-log keys (§6.3).
func EncodeUint64(v uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return string(buf[:])
}

// EncodeDescendingInt32 encodes a priority such that higher priority
// sorts first under ascending byte comparison, matching the
// "tasks/{-priority}/..." ordering in §6.3.
func EncodeDescendingInt32(priority int32) string {
	descending := int64(math.MaxInt32) - int64(priority)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(descending))
	return string(buf[:])
}

// PrefixRange returns the [begin, end) range that selects every key with
// the given prefix.
func PrefixRange(prefix Key) (begin, end Key) {
	begin = append(Key{}, prefix...)
	end = append(Key{}, prefix...)
	end = append(end, 0xFF)
	return begin, end
}
