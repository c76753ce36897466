package reldb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Index keys use an order-preserving, prefix-free encoding: comparing two
// encoded values with bytes.Compare yields the same order as comparing the
// values themselves, and no encoded value is a prefix of another, so a row ID
// can be appended to form the sorted keys of an ordered index.
//
// Values of different kinds order by their tag (nil < bool < int < float <
// time < string < row id < tuple).
const (
	tagEnd    byte = 0x00
	tagNil    byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagInt    byte = 0x10
	tagFloat  byte = 0x11
	tagTime   byte = 0x18
	tagString byte = 0x20
	tagRowID  byte = 0x28
	tagTuple  byte = 0x30

	escByte     byte = 0xFF
	strTermByte byte = 0x01

	rowIDSuffixLen = 8
)

const signBit = uint64(1) << 63

func appendKey(buf []byte, v any) []byte {
	switch v := v.(type) {
	case nil:
		return appendUint8(buf, tagNil)
	case bool:
		if v {
			return appendUint8(buf, tagTrue)
		}
		return appendUint8(buf, tagFalse)
	case int64:
		buf = appendUint8(buf, tagInt)
		return appendUint64(buf, uint64(v)^signBit)
	case float64:
		buf = appendUint8(buf, tagFloat)
		return appendUint64(buf, orderedFloatBits(v))
	case time.Time:
		buf = appendUint8(buf, tagTime)
		buf = appendUint64(buf, uint64(v.Unix())^signBit)
		return appendUint32(buf, uint32(v.Nanosecond()))
	case string:
		buf = appendUint8(buf, tagString)
		return appendEscapedString(buf, v)
	case RowID:
		buf = appendUint8(buf, tagRowID)
		return appendUint64(buf, uint64(v))
	case TupleValue:
		buf = appendUint8(buf, tagTuple)
		for _, item := range v {
			buf = appendKey(buf, item)
		}
		return appendUint8(buf, tagEnd)
	default:
		panic(fmt.Errorf("reldb does not know how to encode %T %v", v, v))
	}
}

// orderedFloatBits maps a float onto a uint64 with the same ordering.
// Negative zero is folded into positive zero so that they compare equal.
func orderedFloatBits(f float64) uint64 {
	if f == 0 {
		f = 0
	}
	bits := math.Float64bits(f)
	if bits&signBit != 0 {
		return ^bits
	}
	return bits | signBit
}

// appendEscapedString writes s with 0x00 escaped as 0x00 0xFF, followed by
// the 0x00 0x01 terminator.
func appendEscapedString(buf []byte, s string) []byte {
	for {
		i := indexZero(s)
		if i < 0 {
			break
		}
		buf = append(buf, s[:i]...)
		buf = append(buf, 0x00, escByte)
		s = s[i+1:]
	}
	buf = append(buf, s...)
	return append(buf, 0x00, strTermByte)
}

func indexZero(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return i
		}
	}
	return -1
}

func encodeKey(v any) string {
	var arr [32]byte
	return string(appendKey(arr[:0], v))
}

func compareValues(a, b any) int {
	switch a := a.(type) {
	case string:
		if b, ok := b.(string); ok {
			return compareStrings(a, b)
		}
	case int64:
		if b, ok := b.(int64); ok {
			return compareOrdered(a, b)
		}
	case RowID:
		if b, ok := b.(RowID); ok {
			return compareOrdered(a, b)
		}
	}
	var abuf, bbuf [64]byte
	return bytes.Compare(appendKey(abuf[:0], a), appendKey(bbuf[:0], b))
}

func valuesEqual(a, b any) bool {
	return compareValues(a, b) == 0
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareOrdered[T int64 | RowID](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// orderedKey is the sorted-list key of an ordered index entry: the encoded
// value followed by the big-endian row ID.
func orderedKey(valueKey string, id RowID) []byte {
	buf := make([]byte, 0, len(valueKey)+rowIDSuffixLen)
	buf = append(buf, valueKey...)
	return appendUint64(buf, uint64(id))
}

func rowIDOfOrderedKey(key []byte) RowID {
	if len(key) < rowIDSuffixLen {
		panic(fmt.Errorf("invalid ordered index key %s", hexstr(key)))
	}
	return RowID(binary.BigEndian.Uint64(key[len(key)-rowIDSuffixLen:]))
}
