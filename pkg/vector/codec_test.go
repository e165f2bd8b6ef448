package vector

import (
	"bytes"
	"testing"
)

func TestNamespacedKeyRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte("hello"),
		[]byte(""),
		{0x00, 0x01, 0xFF, 0x00, 0xFF},
		bytes.Repeat([]byte{0xFF}, 16),
	}
	for _, userKey := range cases {
		enc := encodeNamespacedKey(prefixGraphNode, userKey)
		prefix, got, err := decodeNamespacedKey(enc)
		if err != nil {
			t.Fatalf("decode(%x): %v", userKey, err)
		}
		if prefix != prefixGraphNode {
			t.Fatalf("prefix = %x, want %x", prefix, prefixGraphNode)
		}
		if !bytes.Equal(got, userKey) {
			t.Fatalf("round trip = %x, want %x", got, userKey)
		}
	}
}

func TestNamespacedKeyPrefixDisambiguates(t *testing.T) {
	key := []byte("shared")
	vecKey := vectorDataKey(key)
	nodeKey := graphNodeKey(key)
	if bytes.Equal(vecKey, nodeKey) {
		t.Fatal("vector-data and graph-node keys for the same user key must differ")
	}
	if _, err := decodeVectorDataKey(nodeKey); err == nil {
		t.Fatal("decodeVectorDataKey must reject a graph-node key")
	}
}

func TestVectorDataKeyBoundsCoverOnlyVectorNamespace(t *testing.T) {
	start, end := vectorDataKeyBounds()
	vecKey := vectorDataKey([]byte("x"))
	nodeKey := graphNodeKey([]byte("x"))
	if bytes.Compare(vecKey, start) < 0 || bytes.Compare(vecKey, end) >= 0 {
		t.Fatalf("vector key %x not within bounds [%x, %x)", vecKey, start, end)
	}
	if bytes.Compare(nodeKey, start) >= 0 && bytes.Compare(nodeKey, end) < 0 {
		t.Fatalf("graph-node key %x must fall outside vector-data bounds", nodeKey)
	}
}

func TestEncodeVectorRoundTrip(t *testing.T) {
	v := []float32{1, -2.5, 0, 3.25}
	enc := encodeVector(v)
	got, err := decodeVector(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(v) {
		t.Fatalf("got %d components, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("component %d = %v, want %v", i, got[i], v[i])
		}
	}
}

func TestDecodeVectorRejectsTruncatedPayload(t *testing.T) {
	enc := encodeVector([]float32{1, 2, 3})
	if _, err := decodeVector(enc[:len(enc)-1]); err == nil {
		t.Fatal("expected an error decoding a truncated vector payload")
	}
}
