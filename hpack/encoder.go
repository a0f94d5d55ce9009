package hpack

import "fmt"

// Instruction tags, in the high bits of an instruction's first byte.
const (
	tagIndexed          byte = 0x80
	tagIncrementalIndex byte = 0x40
	tagSizeUpdate       byte = 0x20
	tagNeverIndexed     byte = 0x10
	tagWithoutIndexing  byte = 0x00

	huffmanFlag byte = 0x80
)

// Prefix widths of the integer that opens each representation.
const (
	prefixIndexed      = 7
	prefixIncremental  = 6
	prefixSizeUpdate   = 5
	prefixLiteral      = 4
	prefixStringLength = 7
)

// IndexPolicy reports whether a non-sensitive field with no exact table
// match may be added to the dynamic table.
type IndexPolicy func(hf HeaderField) bool

// HPackEncoder turns header lists into header blocks for one connection
// direction. It is not safe for concurrent use.
type HPackEncoder struct {
	indexTable *indexTable

	pendingSize    uint32
	hasPendingSize bool

	policy IndexPolicy
}

// NewEncoder returns an encoder whose dynamic table starts at, and may never
// exceed, ceiling bytes.
func NewEncoder(ceiling uint32) *HPackEncoder {
	e := &HPackEncoder{
		indexTable: newIndexTable(ceiling),
	}
	e.policy = e.fitsTable
	return e
}

func (e *HPackEncoder) fitsTable(hf HeaderField) bool {
	return hf.Size() <= e.indexTable.maxSize
}

// SetIndexPolicy replaces the default policy, which indexes every field that
// fits in the dynamic table. A nil policy restores the default.
func (e *HPackEncoder) SetIndexPolicy(policy IndexPolicy) {
	if policy == nil {
		policy = e.fitsTable
	}
	e.policy = policy
}

// SetMaxDynamicTableSize schedules a dynamic table size update. It is sent
// at the start of the next header block and applied to the local table at
// the same time. Only the latest value requested between two blocks is sent.
func (e *HPackEncoder) SetMaxDynamicTableSize(size uint32) error {
	if size > e.indexTable.ceiling {
		return fmt.Errorf("%w: %d > %d", ErrTableSizeUpdateTooLarge, size, e.indexTable.ceiling)
	}
	e.pendingSize = size
	e.hasPendingSize = true
	return nil
}

// Encode returns the header block for fields.
func (e *HPackEncoder) Encode(fields []HeaderField) []byte {
	return e.AppendEncode(nil, fields)
}

// AppendEncode appends the header block for fields to dst.
func (e *HPackEncoder) AppendEncode(dst []byte, fields []HeaderField) []byte {
	if e.hasPendingSize {
		dst = appendInt(dst, tagSizeUpdate, prefixSizeUpdate, uint64(e.pendingSize))
		// Bounded by the ceiling check in SetMaxDynamicTableSize.
		_ = e.indexTable.UpdateMaxSize(e.pendingSize)
		e.hasPendingSize = false
	}

	for _, hf := range fields {
		dst = e.appendField(dst, hf)
	}
	return dst
}

func (e *HPackEncoder) appendField(dst []byte, hf HeaderField) []byte {
	idx, nameOnly := e.indexTable.search(hf)

	// A sensitive field always goes out as a never-indexed literal, even when
	// the table already holds the exact pair, so the marker survives.
	if hf.Sensitive {
		return appendLiteral(dst, tagNeverIndexed, prefixLiteral, idx, hf)
	}
	if idx != 0 && !nameOnly {
		return appendInt(dst, tagIndexed, prefixIndexed, idx)
	}

	if e.policy(hf) {
		dst = appendLiteral(dst, tagIncrementalIndex, prefixIncremental, idx, hf)
		e.indexTable.Add(hf)
		return dst
	}
	return appendLiteral(dst, tagWithoutIndexing, prefixLiteral, idx, hf)
}

func appendLiteral(dst []byte, tag byte, prefix uint8, nameIdx uint64, hf HeaderField) []byte {
	dst = appendInt(dst, tag, prefix, nameIdx)
	if nameIdx == 0 {
		dst = appendString(dst, hf.Name)
	}
	return appendString(dst, hf.Value)
}

// appendString writes a string literal, Huffman-coded only when that is
// strictly shorter.
func appendString(dst []byte, s string) []byte {
	if n := HuffmanEncodeLength(s); n < uint64(len(s)) {
		dst = appendInt(dst, huffmanFlag, prefixStringLength, n)
		return AppendHuffmanString(dst, s)
	}
	dst = appendInt(dst, 0, prefixStringLength, uint64(len(s)))
	return append(dst, s...)
}

// DynamicTableSize returns the current size of the dynamic table.
func (e *HPackEncoder) DynamicTableSize() uint32 {
	return e.indexTable.currentSize
}

// MaxDynamicTableSize returns the dynamic table's current size limit.
func (e *HPackEncoder) MaxDynamicTableSize() uint32 {
	return e.indexTable.maxSize
}

// DynamicTableLen returns the number of dynamic table entries.
func (e *HPackEncoder) DynamicTableLen() int {
	return e.indexTable.len()
}

// DynamicTableEntries returns the dynamic table entries, newest first.
func (e *HPackEncoder) DynamicTableEntries() []HeaderField {
	return e.indexTable.entries()
}
