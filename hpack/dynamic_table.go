package hpack

import "fmt"

// DefaultTableSize is the initial HEADER_TABLE_SIZE of an HTTP/2 connection.
const DefaultTableSize = 4096

// indexTable is the combined static + dynamic index space of one connection
// direction. Dynamic entries are kept oldest first; index StaticTableLen+1 is
// always the newest.
type indexTable struct {
	ents        []HeaderField
	currentSize uint32
	maxSize     uint32

	// ceiling bounds maxSize and is fixed for the life of the table.
	ceiling uint32
}

func newIndexTable(ceiling uint32) *indexTable {
	return &indexTable{
		ents:    make([]HeaderField, 0, 16),
		maxSize: ceiling,
		ceiling: ceiling,
	}
}

func (t *indexTable) len() int {
	return len(t.ents)
}

// Get resolves index against the combined index space.
func (t *indexTable) Get(index uint64) (HeaderField, error) {
	if index == 0 {
		return HeaderField{}, fmt.Errorf("%w: index 0", ErrIndexOutOfBounds)
	}
	if index < uint64(len(staticTable)) {
		return staticTable[index], nil
	}

	i := index - uint64(StaticTableLen)
	if i > uint64(len(t.ents)) {
		return HeaderField{}, fmt.Errorf("%w: index %d, dynamic table holds %d entries", ErrIndexOutOfBounds, index, len(t.ents))
	}
	return t.ents[uint64(len(t.ents))-i], nil
}

// Add inserts hf as the newest entry, evicting from the oldest end until it
// fits. An entry larger than the whole table empties the table and is
// dropped.
func (t *indexTable) Add(hf HeaderField) {
	size := hf.Size()
	if size > t.maxSize {
		t.evictTo(0)
		return
	}
	t.evictTo(t.maxSize - size)
	t.ents = append(t.ents, HeaderField{Name: hf.Name, Value: hf.Value})
	t.currentSize += size
}

// UpdateMaxSize applies a dynamic table size update.
func (t *indexTable) UpdateMaxSize(size uint32) error {
	if size > t.ceiling {
		return fmt.Errorf("%w: %d > %d", ErrTableSizeUpdateTooLarge, size, t.ceiling)
	}
	t.evictTo(size)
	t.maxSize = size
	return nil
}

// evictTo drops the oldest entries until currentSize <= target.
func (t *indexTable) evictTo(target uint32) {
	n := 0
	for t.currentSize > target && n < len(t.ents) {
		t.currentSize -= t.ents[n].Size()
		n++
	}
	if n == 0 {
		return
	}
	copy(t.ents, t.ents[n:])
	for k := len(t.ents) - n; k < len(t.ents); k++ {
		t.ents[k] = HeaderField{}
	}
	t.ents = t.ents[:len(t.ents)-n]
}

// search returns the lowest combined index whose entry matches hf exactly.
// Failing that it returns an index whose name matches, with nameOnly set. A
// zero index means no match at all.
func (t *indexTable) search(hf HeaderField) (index uint64, nameOnly bool) {
	if i, ok := staticByPair[pairKey{hf.Name, hf.Value}]; ok {
		return i, false
	}

	var nameIndex uint64
	if i, ok := staticByName[hf.Name]; ok {
		nameIndex = i
	}
	for k := len(t.ents) - 1; k >= 0; k-- {
		ent := t.ents[k]
		if ent.Name != hf.Name {
			continue
		}
		idx := uint64(StaticTableLen + len(t.ents) - k)
		if ent.Value == hf.Value {
			return idx, false
		}
		if nameIndex == 0 {
			nameIndex = idx
		}
	}
	return nameIndex, nameIndex != 0
}

// entries returns a copy of the dynamic entries, newest first.
func (t *indexTable) entries() []HeaderField {
	out := make([]HeaderField, 0, len(t.ents))
	for k := len(t.ents) - 1; k >= 0; k-- {
		out = append(out, t.ents[k])
	}
	return out
}
