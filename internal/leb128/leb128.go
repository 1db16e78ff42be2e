// Package leb128 implements the unsigned and signed LEB128 variable-length
// integer encodings used by DWARF call-frame information.
package leb128

// EncodeUnsigned returns the ULEB128 encoding of v as a new slice.
func EncodeUnsigned(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// EncodeSigned returns the SLEB128 encoding of v as a new slice.
func EncodeSigned(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// DecodeUnsigned decodes a ULEB128 value from the front of b, returning the
// value and the number of bytes consumed.
func DecodeUnsigned(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	for n, x := range b {
		result |= uint64(x&0x7f) << shift
		if x&0x80 == 0 {
			return result, n + 1
		}
		shift += 7
	}
	return result, len(b)
}

// DecodeSigned decodes a SLEB128 value from the front of b, returning the
// value and the number of bytes consumed.
func DecodeSigned(b []byte) (int64, int) {
	var result int64
	var shift uint
	var n int
	var x byte
	for n, x = range b {
		result |= int64(x&0x7f) << shift
		shift += 7
		if x&0x80 == 0 {
			break
		}
	}
	if shift < 64 && x&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n + 1
}
