// Package rlpx implements the narrow slice of RLP encoding needed by the
// enr package: a fork id (4-byte hash + next-fork block number) and the
// byte-string key/value entries carried in a node record. It is not a
// general-purpose RLP library; discv5's ENR format is the only consumer.
package rlpx

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed is returned when decoding encounters a truncated or
// structurally invalid input.
var ErrMalformed = errors.New("rlpx: malformed input")

// EncodeString encodes a single RLP byte string.
func EncodeString(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return []byte{b[0]}
	}
	return append(encodeLength(len(b), 0x80), b...)
}

// EncodeList encodes items as an RLP list.
func EncodeList(items ...[]byte) []byte {
	var body []byte
	for _, it := range items {
		body = append(body, it...)
	}
	return append(encodeLength(len(body), 0xc0), body...)
}

func encodeLength(l int, offset byte) []byte {
	if l < 56 {
		return []byte{offset + byte(l)}
	}
	lenBytes := uintToMinimalBytes(uint64(l))
	return append([]byte{offset + 55 + byte(len(lenBytes))}, lenBytes...)
}

func uintToMinimalBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// EncodeUint64 encodes v as a minimal big-endian RLP byte string.
func EncodeUint64(v uint64) []byte {
	if v == 0 {
		return EncodeString(nil)
	}
	return EncodeString(uintToMinimalBytes(v))
}

// ForkID is the 4-byte chain checksum plus the next fork activation
// block, carried in node records as RLP([hash, next]).
type ForkID struct {
	Hash [4]byte
	Next uint64
}

// Encode returns the RLP list encoding of f.
func (f ForkID) Encode() []byte {
	return EncodeList(EncodeString(f.Hash[:]), EncodeUint64(f.Next))
}

// DecodeForkID decodes a RLP-encoded ForkID as produced by Encode.
func DecodeForkID(b []byte) (ForkID, error) {
	items, err := decodeList(b)
	if err != nil {
		return ForkID{}, err
	}
	if len(items) != 2 {
		return ForkID{}, ErrMalformed
	}
	hash, err := decodeString(items[0])
	if err != nil {
		return ForkID{}, err
	}
	if len(hash) != 4 {
		return ForkID{}, ErrMalformed
	}
	nextBytes, err := decodeString(items[1])
	if err != nil {
		return ForkID{}, err
	}
	var f ForkID
	copy(f.Hash[:], hash)
	f.Next = bytesToUint64(nextBytes)
	return f, nil
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	return v
}

// DecodeString decodes a single RLP byte-string item, returning its raw
// content. Exported for callers (enr) that need to walk a list of mixed
// string items themselves.
func DecodeString(b []byte) ([]byte, error) { return decodeString(b) }

// DecodeList decodes a single RLP list into its raw sub-items. Exported for
// callers (enr) that need to walk the record's top-level list.
func DecodeList(b []byte) ([][]byte, error) { return decodeList(b) }

// decodeString decodes a single RLP byte-string item, returning its raw
// content.
func decodeString(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrMalformed
	}
	first := b[0]
	switch {
	case first < 0x80:
		return b[:1], nil
	case first <= 0xb7:
		l := int(first - 0x80)
		if len(b) < 1+l {
			return nil, ErrMalformed
		}
		return b[1 : 1+l], nil
	case first <= 0xbf:
		lenOfLen := int(first - 0xb7)
		if len(b) < 1+lenOfLen {
			return nil, ErrMalformed
		}
		l := int(bytesToUint64(b[1 : 1+lenOfLen]))
		if len(b) < 1+lenOfLen+l {
			return nil, ErrMalformed
		}
		return b[1+lenOfLen : 1+lenOfLen+l], nil
	default:
		return nil, ErrMalformed
	}
}

// decodeList decodes a single RLP list into its raw sub-items.
func decodeList(b []byte) ([][]byte, error) {
	if len(b) == 0 {
		return nil, ErrMalformed
	}
	first := b[0]
	var body []byte
	switch {
	case first >= 0xc0 && first <= 0xf7:
		l := int(first - 0xc0)
		if len(b) < 1+l {
			return nil, ErrMalformed
		}
		body = b[1 : 1+l]
	case first >= 0xf8:
		lenOfLen := int(first - 0xf7)
		if len(b) < 1+lenOfLen {
			return nil, ErrMalformed
		}
		l := int(bytesToUint64(b[1 : 1+lenOfLen]))
		if len(b) < 1+lenOfLen+l {
			return nil, ErrMalformed
		}
		body = b[1+lenOfLen : 1+lenOfLen+l]
	default:
		return nil, ErrMalformed
	}

	var items [][]byte
	for len(body) > 0 {
		itemLen, err := itemTotalLength(body)
		if err != nil {
			return nil, err
		}
		if itemLen > len(body) {
			return nil, ErrMalformed
		}
		items = append(items, body[:itemLen])
		body = body[itemLen:]
	}
	return items, nil
}

func itemTotalLength(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, ErrMalformed
	}
	first := b[0]
	switch {
	case first < 0x80:
		return 1, nil
	case first <= 0xb7:
		return 1 + int(first-0x80), nil
	case first <= 0xbf:
		lenOfLen := int(first - 0xb7)
		if len(b) < 1+lenOfLen {
			return 0, ErrMalformed
		}
		l := int(bytesToUint64(b[1 : 1+lenOfLen]))
		return 1 + lenOfLen + l, nil
	case first <= 0xf7:
		return 1 + int(first-0xc0), nil
	default:
		lenOfLen := int(first - 0xf7)
		if len(b) < 1+lenOfLen {
			return 0, ErrMalformed
		}
		l := int(bytesToUint64(b[1 : 1+lenOfLen]))
		return 1 + lenOfLen + l, nil
	}
}
