package vector

import (
	"encoding/binary"
	"math"

	"github.com/nainya/corestore/pkg/errs"
)

// Reserved record-store key prefixes (spec §4.5 "persisted ... via a
// parallel record space keyed under a reserved prefix"). Both vector
// payloads and graph nodes live in the same record.Store keyspace as
// user keys, disambiguated by a 4-byte prefix ahead of the (escaped)
// user key, so a reserved-namespace key can never collide with a
// plain user key and a range scan bounded by the prefix never crosses
// into the other.
const (
	prefixVectorData uint32 = 0x5645_4331 // "VEC1"
	prefixGraphNode  uint32 = 0x4e4f_4431 // "NOD1"
)

// vectorDataKey builds the record-store key under which a vector's raw
// components are stored.
func vectorDataKey(key []byte) []byte {
	return encodeNamespacedKey(prefixVectorData, key)
}

// graphNodeKey builds the record-store key under which a graph node's
// serialized neighbor lists are stored.
func graphNodeKey(key []byte) []byte {
	return encodeNamespacedKey(prefixGraphNode, key)
}

// vectorDataKeyBounds returns the [start, end) record-store key range
// covering every vectorDataKey, regardless of the user key it encodes:
// the 4-byte prefix sorts before any byte the encoder appends after
// it, so the half-open range [prefix, prefix+1) is exactly the
// vector-data namespace.
func vectorDataKeyBounds() (start, end []byte) {
	start = make([]byte, 4)
	binary.BigEndian.PutUint32(start, prefixVectorData)
	end = make([]byte, 4)
	binary.BigEndian.PutUint32(end, prefixVectorData+1)
	return start, end
}

// decodeVectorDataKey recovers the original user key from a record-
// store key built by vectorDataKey.
func decodeVectorDataKey(recordKey []byte) ([]byte, error) {
	prefix, userKey, err := decodeNamespacedKey(recordKey)
	if err != nil || prefix != prefixVectorData {
		return nil, errs.New(errs.Corruption, "vector.decode_key")
	}
	return userKey, nil
}

// encodeNamespacedKey lays out a namespaced record-store key as a
// 4-byte big-endian prefix, the user key with any embedded 0x00/0xFE/0xFF
// byte escaped, and a null terminator. This is the same
// shape corestore uses elsewhere for checksummed framing
// (page/WAL headers): a fixed prefix the reader can always locate,
// followed by a self-delimiting variable-length body.
func encodeNamespacedKey(prefix uint32, userKey []byte) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], prefix)
	out := append([]byte{}, buf[:]...)
	out = append(out, escapeKeyBytes(userKey)...)
	out = append(out, 0)
	return out
}

// decodeNamespacedKey reverses encodeNamespacedKey.
func decodeNamespacedKey(recordKey []byte) (prefix uint32, userKey []byte, err error) {
	if len(recordKey) < 4 {
		return 0, nil, errs.New(errs.Corruption, "vector.decode_key")
	}
	prefix = binary.BigEndian.Uint32(recordKey[:4])
	body := recordKey[4:]
	end := 0
	for end < len(body) && body[end] != 0 {
		if body[end] == 0xFE && end+1 < len(body) {
			end++ // the escaped byte may itself be 0x00
		}
		end++
	}
	if end >= len(body) {
		return 0, nil, errs.New(errs.Corruption, "vector.decode_key")
	}
	return prefix, unescapeKeyBytes(body[:end]), nil
}

// escapeKeyBytes rewrites 0x00, 0xFE and 0xFF as a two-byte 0xFE escape
// so the null terminator in encodeNamespacedKey is unambiguous and the
// escape byte itself round-trips. The escaped form does not preserve
// byte order between user keys (an escaped 0x00 sorts after 0x01..0xFD).
func escapeKeyBytes(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}
	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0x00:
			out = append(out, 0xFE, 0x00)
		case 0xFE:
			out = append(out, 0xFE, 0xFE)
		case 0xFF:
			out = append(out, 0xFE, 0xFF)
		default:
			out = append(out, b)
		}
	}
	return out
}

// unescapeKeyBytes reverses escapeKeyBytes.
func unescapeKeyBytes(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// encodeVector serializes {dimension, components} (spec §3 "Vector
// record").
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4+4*len(v))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v)))
	for i, c := range v {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], math.Float32bits(c))
	}
	return buf
}

// decodeVector parses the payload written by encodeVector.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) < 4 {
		return nil, errs.New(errs.Corruption, "vector.decode")
	}
	dim := binary.LittleEndian.Uint32(buf[0:4])
	if len(buf) != int(4+4*dim) {
		return nil, errs.New(errs.Corruption, "vector.decode")
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+4*i : 8+4*i]))
	}
	return out, nil
}
