package hpack

// maxInteger is the largest integer the decoder accepts. Table sizes and
// string lengths never legitimately exceed it.
const maxInteger = 1<<32 - 1

// maxContinuationShift allows five continuation bytes, enough for 35 bits.
const maxContinuationShift = 28

// appendInt appends num using an N-bit prefix. The bits of headerByte above
// the prefix carry the instruction tag.
func appendInt(dst []byte, headerByte byte, prefix uint8, num uint64) []byte {
	mask := uint64(1)<<prefix - 1
	if num < mask {
		return append(dst, headerByte|byte(num))
	}

	dst = append(dst, headerByte|byte(mask))
	num -= mask
	for num >= 128 {
		dst = append(dst, byte(num&0x7f)|0x80)
		num >>= 7
	}
	return append(dst, byte(num))
}

// decodeInt reads an N-bit prefixed integer from the start of bs and returns
// the value together with the remaining bytes.
func decodeInt(bs []byte, prefix uint8) (uint64, []byte, error) {
	if len(bs) == 0 {
		return 0, bs, ErrTruncatedInput
	}
	mask := uint64(1)<<prefix - 1
	i := uint64(bs[0]) & mask
	bs = bs[1:]
	if i < mask {
		return i, bs, nil
	}

	var m uint
	for {
		if len(bs) == 0 {
			return 0, bs, ErrTruncatedInput
		}
		if m > maxContinuationShift {
			return 0, bs, ErrIntegerOverflow
		}
		oct := bs[0]
		bs = bs[1:]
		i += uint64(oct&0x7f) << m
		if i > maxInteger {
			return 0, bs, ErrIntegerOverflow
		}
		m += 7
		if oct&0x80 == 0 {
			return i, bs, nil
		}
	}
}
