// Package hexf appends uppercase hex renderings of bytes and integers,
// optionally "0x" prefixed and trimmed of leading zeros, without allocating
// intermediate strings.
package hexf

const digits = "0123456789ABCDEF"

// AppendEncodeU appends the uppercase hex of src to dst.
func AppendEncodeU(dst, src []byte) []byte {
	for _, v := range src {
		dst = append(dst, digits[v>>4], digits[v&0x0F])
	}
	return dst
}

// AppendEncodeToStringUPrefix appends "0x" and the uppercase hex of src to dst.
func AppendEncodeToStringUPrefix(dst, src []byte) []byte {
	return AppendEncodeU(append(dst, '0', 'x'), src)
}

// EncodeToStringUPrefix returns "0x" and the uppercase hex of src.
func EncodeToStringUPrefix(src []byte) string {
	return string(AppendEncodeToStringUPrefix(make([]byte, 0, 2+len(src)*2), src))
}

type Uint64Like interface{ ~uint64 | ~int64 }
type Uint32Like interface{ ~uint32 | ~int32 }
type Uint16Like interface{ ~uint16 | ~int16 }
type Uint8Like interface{ ~uint8 | ~int8 }

// appendUint appends the low width nibbles of n. With trim set leading zero
// nibbles are dropped, keeping at least one digit.
func appendUint(dst []byte, n uint64, width int, trim bool) []byte {
	var b [16]byte
	for i := width - 1; i >= 0; i-- {
		b[i] = digits[n&0x0F]
		n >>= 4
	}
	s := b[:width]
	if trim {
		for len(s) > 1 && s[0] == '0' {
			s = s[1:]
		}
	}
	return append(dst, s...)
}

// AppendNUm64p appends "0x" and the hex of a 64-bit integer.
func AppendNUm64p[T Uint64Like](dst []byte, n T, trim bool) []byte {
	return appendUint(append(dst, '0', 'x'), uint64(n), 16, trim)
}

// AppendNUm32p appends "0x" and the hex of a 32-bit integer.
func AppendNUm32p[T Uint32Like](dst []byte, n T, trim bool) []byte {
	return appendUint(append(dst, '0', 'x'), uint64(uint32(n)), 8, trim)
}

// AppendNUm16p appends "0x" and the hex of a 16-bit integer.
func AppendNUm16p[T Uint16Like](dst []byte, n T, trim bool) []byte {
	return appendUint(append(dst, '0', 'x'), uint64(uint16(n)), 4, trim)
}

// AppendNUm8p appends "0x" and the hex of an 8-bit integer.
func AppendNUm8p[T Uint8Like](dst []byte, n T, trim bool) []byte {
	return appendUint(append(dst, '0', 'x'), uint64(uint8(n)), 2, trim)
}

// AppendUint64PaddedU appends n as 16 hex digits.
func AppendUint64PaddedU(dst []byte, n uint64) []byte { return appendUint(dst, n, 16, false) }

// AppendUint32PaddedU appends n as 8 hex digits.
func AppendUint32PaddedU(dst []byte, n uint32) []byte { return appendUint(dst, uint64(n), 8, false) }

// AppendUint16PaddedU appends n as 4 hex digits.
func AppendUint16PaddedU(dst []byte, n uint16) []byte { return appendUint(dst, uint64(n), 4, false) }
