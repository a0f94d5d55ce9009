package hpack

import "fmt"

// HPackDecoder turns header blocks back into header lists for one connection
// direction. Blocks must be decoded in the order they arrived; the decoder is
// not safe for concurrent use.
type HPackDecoder struct {
	indexTable *indexTable

	maxStringLength   int
	maxHeaderListSize uint32

	err error
}

// NewDecoder returns a decoder whose dynamic table starts at ceiling bytes.
// Size updates above ceiling are rejected.
func NewDecoder(ceiling uint32) *HPackDecoder {
	return &HPackDecoder{
		indexTable: newIndexTable(ceiling),
	}
}

// SetMaxStringLength limits the length of any single decoded name or value.
// Zero means no limit beyond the block itself.
func (h *HPackDecoder) SetMaxStringLength(n int) {
	h.maxStringLength = n
}

// SetMaxHeaderListSize limits the summed Size of the fields of one block.
// Zero means unlimited.
func (h *HPackDecoder) SetMaxHeaderListSize(n uint32) {
	h.maxHeaderListSize = n
}

// Decode decodes one complete header block. On error no fields are returned
// and the decoder refuses all further blocks.
func (h *HPackDecoder) Decode(block []byte) ([]HeaderField, error) {
	if h.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoderBroken, h.err)
	}
	headers, err := h.decode(block)
	if err != nil {
		h.err = err
		return nil, err
	}
	return headers, nil
}

func (h *HPackDecoder) decode(block []byte) ([]HeaderField, error) {
	headers := []HeaderField{}
	var listSize uint64
	sawField := false

	bs := block
	for len(bs) > 0 {
		offset := len(block) - len(bs)
		field := bs[0]

		var (
			hf  HeaderField
			err error
		)
		switch {
		case field&0x80 == tagIndexed:
			var idx uint64
			if idx, bs, err = decodeInt(bs, prefixIndexed); err == nil {
				hf, err = h.indexTable.Get(idx)
			}
		case field&0xc0 == tagIncrementalIndex:
			hf, bs, err = h.readLiteral(bs, prefixIncremental)
		case field&0xe0 == tagSizeUpdate:
			if sawField {
				return nil, &DecodingError{Offset: offset, Err: ErrUnexpectedSizeUpdate}
			}
			var size uint64
			if size, bs, err = decodeInt(bs, prefixSizeUpdate); err == nil {
				// decodeInt never returns more than 32 bits.
				err = h.indexTable.UpdateMaxSize(uint32(size))
			}
			if err != nil {
				return nil, &DecodingError{Offset: offset, Err: err}
			}
			continue
		default:
			// 0000xxxx and 0001xxxx share one layout.
			if hf, bs, err = h.readLiteral(bs, prefixLiteral); err == nil {
				hf.Sensitive = field&0xf0 == tagNeverIndexed
			}
		}
		if err != nil {
			return nil, &DecodingError{Offset: offset, Err: err}
		}

		sawField = true
		listSize += uint64(hf.Size())
		if h.maxHeaderListSize > 0 && listSize > uint64(h.maxHeaderListSize) {
			return nil, &DecodingError{Offset: offset, Err: ErrHeaderListTooLarge}
		}
		headers = append(headers, hf)
		if field&0xc0 == tagIncrementalIndex {
			h.indexTable.Add(hf)
		}
	}
	return headers, nil
}

// readLiteral reads a literal representation whose name index uses an N-bit
// prefix. A zero index means a literal name follows.
func (h *HPackDecoder) readLiteral(bs []byte, prefix uint8) (HeaderField, []byte, error) {
	idx, bs, err := decodeInt(bs, prefix)
	if err != nil {
		return HeaderField{}, bs, err
	}

	var name string
	if idx > 0 {
		indexed, err := h.indexTable.Get(idx)
		if err != nil {
			return HeaderField{}, bs, err
		}
		name = indexed.Name
	} else if name, bs, err = h.readString(bs); err != nil {
		return HeaderField{}, bs, err
	}

	value, bs, err := h.readString(bs)
	if err != nil {
		return HeaderField{}, bs, err
	}
	return HeaderField{Name: name, Value: value}, bs, nil
}

// readString reads a string literal. The declared length counts encoded
// bytes, not decoded ones.
func (h *HPackDecoder) readString(bs []byte) (string, []byte, error) {
	if len(bs) == 0 {
		return "", bs, ErrTruncatedInput
	}
	huffman := bs[0]&huffmanFlag != 0
	n, bs, err := decodeInt(bs, prefixStringLength)
	if err != nil {
		return "", bs, err
	}
	if n > uint64(len(bs)) {
		return "", bs, fmt.Errorf("%w: need %d bytes, have %d", ErrStringLengthMismatch, n, len(bs))
	}
	if !huffman && h.maxStringLength > 0 && n > uint64(h.maxStringLength) {
		return "", bs, fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
	}

	data := bs[:n]
	bs = bs[n:]
	if !huffman {
		// string() copies, so table entries never alias the caller's buffer.
		return string(data), bs, nil
	}
	s, err := huffmanDecode(data, h.maxStringLength)
	if err != nil {
		return "", bs, err
	}
	return s, bs, nil
}

// DynamicTableSize returns the current size of the dynamic table.
func (h *HPackDecoder) DynamicTableSize() uint32 {
	return h.indexTable.currentSize
}

// MaxDynamicTableSize returns the dynamic table's current size limit.
func (h *HPackDecoder) MaxDynamicTableSize() uint32 {
	return h.indexTable.maxSize
}

// DynamicTableLen returns the number of dynamic table entries.
func (h *HPackDecoder) DynamicTableLen() int {
	return h.indexTable.len()
}

// DynamicTableEntries returns the dynamic table entries, newest first.
func (h *HPackDecoder) DynamicTableEntries() []HeaderField {
	return h.indexTable.entries()
}
