package http2

import (
	"errors"

	"github.com/jakegut/gohpack/hpack"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	directionEncode = "encode"
	directionDecode = "decode"
)

// Metrics tracks header compression for every HeaderCodec sharing it. A nil
// *Metrics records nothing.
type Metrics struct {
	blocks       *prometheus.CounterVec
	blockBytes   *prometheus.CounterVec
	fieldBytes   *prometheus.CounterVec
	errors       *prometheus.CounterVec
	tableSize    *prometheus.GaugeVec
	tableEntries *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpack",
			Name:      "header_blocks_total",
			Help:      "Number of header blocks processed.",
		}, []string{"direction"}),
		blockBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpack",
			Name:      "block_bytes_total",
			Help:      "Compressed header block bytes.",
		}, []string{"direction"}),
		fieldBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpack",
			Name:      "field_bytes_total",
			Help:      "Uncompressed header name and value bytes.",
		}, []string{"direction"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hpack",
			Name:      "decode_errors_total",
			Help:      "Header blocks rejected by the decoder, by reason.",
		}, []string{"reason"}),
		tableSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hpack",
			Name:      "dynamic_table_size_bytes",
			Help:      "Dynamic table size after the most recent block.",
		}, []string{"direction"}),
		tableEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hpack",
			Name:      "dynamic_table_entries",
			Help:      "Dynamic table entry count after the most recent block.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.blocks, m.blockBytes, m.fieldBytes, m.errors, m.tableSize, m.tableEntries)
	return m
}

type tableStats interface {
	DynamicTableSize() uint32
	DynamicTableLen() int
}

func (m *Metrics) observeBlock(direction string, block []byte, fields []hpack.HeaderField, table tableStats) {
	if m == nil {
		return
	}
	var raw int
	for _, hf := range fields {
		raw += len(hf.Name) + len(hf.Value)
	}
	m.blocks.WithLabelValues(direction).Inc()
	m.blockBytes.WithLabelValues(direction).Add(float64(len(block)))
	m.fieldBytes.WithLabelValues(direction).Add(float64(raw))
	m.tableSize.WithLabelValues(direction).Set(float64(table.DynamicTableSize()))
	m.tableEntries.WithLabelValues(direction).Set(float64(table.DynamicTableLen()))
}

func (m *Metrics) observeError(err error) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorReason(err)).Inc()
}

var errorReasons = []struct {
	err    error
	reason string
}{
	{hpack.ErrIndexOutOfBounds, "index_out_of_bounds"},
	{hpack.ErrIntegerOverflow, "integer_overflow"},
	{hpack.ErrHuffmanPadding, "huffman_padding"},
	{hpack.ErrHuffmanDecode, "huffman_decode"},
	{hpack.ErrStringLengthMismatch, "string_length_mismatch"},
	{hpack.ErrTableSizeUpdateTooLarge, "table_size_update_too_large"},
	{hpack.ErrTruncatedInput, "truncated_input"},
	{hpack.ErrUnexpectedSizeUpdate, "unexpected_size_update"},
	{hpack.ErrStringTooLong, "string_too_long"},
	{hpack.ErrHeaderListTooLarge, "header_list_too_large"},
}

func errorReason(err error) string {
	for _, r := range errorReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
