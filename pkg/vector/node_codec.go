package vector

import (
	"encoding/binary"

	"github.com/nainya/corestore/pkg/errs"
)

// encodeNode serializes a graph node as
// [topLevel u16][per level: count u16, then count * (keyLen u16, key)],
// matching spec §4.5 "a per-node record containing that node's top
// level and per-layer neighbor lists".
func encodeNode(n *Node) []byte {
	size := 2
	for _, level := range n.Neighbors {
		size += 2
		for _, k := range level {
			size += 2 + len(k)
		}
	}
	buf := make([]byte, size)
	pos := 0
	binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(n.TopLevel))
	pos += 2
	for _, level := range n.Neighbors {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(len(level)))
		pos += 2
		for _, k := range level {
			binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(len(k)))
			pos += 2
			copy(buf[pos:], k)
			pos += len(k)
		}
	}
	return buf
}

func decodeNode(key []byte, buf []byte) (*Node, error) {
	if len(buf) < 2 {
		return nil, errs.New(errs.Corruption, "vector.decode_node")
	}
	topLevel := int(binary.LittleEndian.Uint16(buf[0:2]))
	pos := 2
	neighbors := make([][][]byte, topLevel+1)
	for level := 0; level <= topLevel; level++ {
		if pos+2 > len(buf) {
			return nil, errs.New(errs.Corruption, "vector.decode_node")
		}
		count := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
		pos += 2
		list := make([][]byte, count)
		for i := 0; i < count; i++ {
			if pos+2 > len(buf) {
				return nil, errs.New(errs.Corruption, "vector.decode_node")
			}
			klen := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
			pos += 2
			if pos+klen > len(buf) {
				return nil, errs.New(errs.Corruption, "vector.decode_node")
			}
			list[i] = append([]byte(nil), buf[pos:pos+klen]...)
			pos += klen
		}
		neighbors[level] = list
	}
	return &Node{Key: append([]byte(nil), key...), TopLevel: topLevel, Neighbors: neighbors}, nil
}
