package http2

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/jakegut/gohpack/hpack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, codec *HeaderCodec, r io.Reader) []*HeaderBlock {
	t.Helper()
	var blocks []*HeaderBlock
	for {
		frame, err := ParseFrame(r, maxMaxFrameSize)
		if errors.Is(err, io.EOF) {
			return blocks
		}
		require.NoError(t, err)
		block, err := codec.ReadFrame(frame)
		require.NoError(t, err)
		if block != nil {
			blocks = append(blocks, block)
		}
	}
}

var requestFields = []hpack.HeaderField{
	{Name: ":method", Value: "GET"},
	{Name: ":scheme", Value: "https"},
	{Name: ":path", Value: "/"},
	{Name: ":authority", Value: "www.example.com"},
	{Name: "authorization", Value: "Bearer token", Sensitive: true},
}

func TestHeaderCodecRoundTrip(t *testing.T) {
	writer := NewHeaderCodec(CodecConfig{})
	reader := NewHeaderCodec(CodecConfig{})

	var buf bytes.Buffer
	require.NoError(t, writer.WriteHeaders(&buf, 1, requestFields, true))
	require.NoError(t, writer.WriteHeaders(&buf, 3, requestFields, false))

	blocks := readAll(t, reader, &buf)
	require.Len(t, blocks, 2)
	assert.Equal(t, &HeaderBlock{StreamID: 1, EndStream: true, Fields: requestFields}, blocks[0])
	assert.Equal(t, &HeaderBlock{StreamID: 3, EndStream: false, Fields: requestFields}, blocks[1])
	assert.Equal(t, writer.Encoder().DynamicTableEntries(), reader.Decoder().DynamicTableEntries())
}

func TestHeaderCodecFragmentsLargeBlocks(t *testing.T) {
	writer := NewHeaderCodec(CodecConfig{})
	reader := NewHeaderCodec(CodecConfig{})

	fields := []hpack.HeaderField{
		{Name: "x-one", Value: strings.Repeat("~", 20000)},
		{Name: "x-two", Value: strings.Repeat("~", 20000)},
	}
	var buf bytes.Buffer
	require.NoError(t, writer.WriteHeaders(&buf, 5, fields, false))

	var types []FrameType
	r := bytes.NewReader(buf.Bytes())
	for r.Len() > 0 {
		frame, err := ParseFrame(r, maxMaxFrameSize)
		require.NoError(t, err)
		assert.LessOrEqual(t, frame.Header().Length, uint32(16384))
		types = append(types, frame.Header().Type)
	}
	assert.Equal(t, []FrameType{FrameHeaders, FrameContinuation, FrameContinuation}, types)

	blocks := readAll(t, reader, &buf)
	require.Len(t, blocks, 1)
	assert.Equal(t, fields, blocks[0].Fields)
}

func TestHeaderCodecInterleavedFrame(t *testing.T) {
	reader := NewHeaderCodec(CodecConfig{})

	_, err := reader.ReadFrame(&HeadersFrame{Framed: Framed{Header: FrameHeader{StreamID: 1}}, BlockFragment: []byte{0x82}})
	require.NoError(t, err)

	_, err = reader.ReadFrame(&ContinuationFrame{Framed: Framed{Header: FrameHeader{StreamID: 3}}, EndHeaders: true})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrProtocolError, cerr.Code)

	// The codec stays closed.
	_, err = reader.ReadFrame(&HeadersFrame{Framed: Framed{Header: FrameHeader{StreamID: 5}}, EndHeaders: true})
	assert.Equal(t, cerr, err)
	assert.Equal(t, ErrProtocolError, reader.GoAway(3).ErrorCode)
}

func TestHeaderCodecContinuationWithoutHeaders(t *testing.T) {
	reader := NewHeaderCodec(CodecConfig{})
	_, err := reader.ReadFrame(&ContinuationFrame{Framed: Framed{Header: FrameHeader{StreamID: 1}}, EndHeaders: true})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrProtocolError, cerr.Code)
}

func TestHeaderCodecOtherFrameWhileBlockOpen(t *testing.T) {
	reader := NewHeaderCodec(CodecConfig{})
	_, err := reader.ReadFrame(&HeadersFrame{Framed: Framed{Header: FrameHeader{StreamID: 1}}})
	require.NoError(t, err)

	_, err = reader.ReadFrame(&UnknownFrame{Framed: Framed{Header: FrameHeader{Type: FramePing}}})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrProtocolError, cerr.Code)
}

func TestHeaderCodecBlockTooLarge(t *testing.T) {
	reader := NewHeaderCodec(CodecConfig{MaxBlockSize: 4})
	_, err := reader.ReadFrame(&HeadersFrame{Framed: Framed{Header: FrameHeader{StreamID: 1}}, BlockFragment: []byte{0x82, 0x82, 0x82}})
	require.NoError(t, err)

	_, err = reader.ReadFrame(&ContinuationFrame{Framed: Framed{Header: FrameHeader{StreamID: 1}}, BlockFragment: []byte{0x82, 0x82}, EndHeaders: true})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrEnhanceYourCalm, cerr.Code)
}

func TestHeaderCodecCompressionError(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	reader := NewHeaderCodec(CodecConfig{Metrics: metrics})

	block, err := reader.ReadFrame(&HeadersFrame{Framed: Framed{Header: FrameHeader{StreamID: 1}}, EndHeaders: true, BlockFragment: []byte{0x82}})
	require.NoError(t, err)
	assert.Equal(t, []hpack.HeaderField{{Name: ":method", Value: "GET"}}, block.Fields)

	_, err = reader.ReadFrame(&HeadersFrame{Framed: Framed{Header: FrameHeader{StreamID: 3}}, EndHeaders: true, BlockFragment: []byte{0x80}})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrCompressionError, cerr.Code)
	assert.ErrorIs(t, err, hpack.ErrIndexOutOfBounds)

	goAway := reader.GoAway(1)
	assert.Equal(t, ErrCompressionError, goAway.ErrorCode)
	assert.Equal(t, uint32(1), goAway.LastStreamID)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.errors.WithLabelValues("index_out_of_bounds")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.blocks.WithLabelValues(directionDecode)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.blockBytes.WithLabelValues(directionDecode)))
	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.fieldBytes.WithLabelValues(directionDecode)))
}

func TestHeaderCodecPeerTableSize(t *testing.T) {
	writer := NewHeaderCodec(CodecConfig{EncoderTableSize: 2048})
	reader := NewHeaderCodec(CodecConfig{})

	// Peer advertises more than the configured cap.
	require.NoError(t, writer.ApplyPeerSettings([]SettingFrameArgs{{Param: SettingsHeaderTableSize, Value: 65536}}))

	var buf bytes.Buffer
	require.NoError(t, writer.WriteHeaders(&buf, 1, requestFields, true))
	readAll(t, reader, &buf)
	assert.Equal(t, uint32(2048), writer.Encoder().MaxDynamicTableSize())
	assert.Equal(t, uint32(2048), reader.Decoder().MaxDynamicTableSize())

	require.NoError(t, writer.ApplyPeerSettings([]SettingFrameArgs{{Param: SettingsHeaderTableSize, Value: 0}}))
	buf.Reset()
	require.NoError(t, writer.WriteHeaders(&buf, 3, requestFields, true))
	blocks := readAll(t, reader, &buf)
	require.Len(t, blocks, 1)
	assert.Equal(t, requestFields, blocks[0].Fields)
	assert.Equal(t, 0, reader.Decoder().DynamicTableLen())
	assert.Equal(t, 0, writer.Encoder().DynamicTableLen())
}

func TestHeaderCodecSmallEncoderTable(t *testing.T) {
	writer := NewHeaderCodec(CodecConfig{EncoderTableSize: 64})
	reader := NewHeaderCodec(CodecConfig{})

	var buf bytes.Buffer
	require.NoError(t, writer.WriteHeaders(&buf, 1, requestFields, true))
	assert.Equal(t, byte(0x3f), buf.Bytes()[frameHeaderLen])

	blocks := readAll(t, reader, &buf)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint32(64), reader.Decoder().MaxDynamicTableSize())
	assert.Equal(t, writer.Encoder().DynamicTableEntries(), reader.Decoder().DynamicTableEntries())
}

func TestHeaderCodecPeerMaxFrameSize(t *testing.T) {
	writer := NewHeaderCodec(CodecConfig{})
	err := writer.ApplyPeerSettings([]SettingFrameArgs{{Param: SettingsMaxFrameSize, Value: 100}})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrProtocolError, cerr.Code)

	assert.ErrorIs(t, writer.WriteHeaders(io.Discard, 1, requestFields, true), ErrCodecClosed)
}

func TestHeaderCodecPeerMaxHeaderListSize(t *testing.T) {
	writer := NewHeaderCodec(CodecConfig{})
	require.NoError(t, writer.ApplyPeerSettings([]SettingFrameArgs{{Param: SettingsMaxHeaderListSize, Value: 100}}))

	err := writer.WriteHeaders(io.Discard, 1, requestFields, true)
	assert.ErrorIs(t, err, hpack.ErrHeaderListTooLarge)
	assert.Equal(t, 0, writer.Encoder().DynamicTableLen())
}

func TestHeaderCodecLocalMaxHeaderListSize(t *testing.T) {
	local := NewSettings()
	limit := uint32(50)
	local.MaxHeaderListSize = &limit

	writer := NewHeaderCodec(CodecConfig{})
	reader := NewHeaderCodec(CodecConfig{Local: local})

	var buf bytes.Buffer
	require.NoError(t, writer.WriteHeaders(&buf, 1, requestFields, true))
	frame, err := ParseFrame(&buf, maxMaxFrameSize)
	require.NoError(t, err)
	_, err = reader.ReadFrame(frame)
	assert.ErrorIs(t, err, hpack.ErrHeaderListTooLarge)
}
