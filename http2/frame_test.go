package http2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersFrameRoundTrip(t *testing.T) {
	tests := []*HeadersFrame{
		{
			Framed:        Framed{Header: FrameHeader{StreamID: 1}},
			EndStream:     true,
			EndHeaders:    true,
			BlockFragment: []byte{0x82, 0x86},
		},
		{
			Framed:             Framed{Header: FrameHeader{StreamID: 3}},
			EndHeaders:         true,
			Padded:             true,
			PadLength:          4,
			Priority:           true,
			ExclusiveStreamDep: true,
			StreamDependency:   1,
			Weight:             200,
			BlockFragment:      []byte{0x84},
		},
	}

	for _, tt := range tests {
		bs, err := tt.Encode()
		require.NoError(t, err)

		frame, err := ParseFrame(bytes.NewReader(bs), 16384)
		require.NoError(t, err)
		got, ok := frame.(*HeadersFrame)
		require.True(t, ok)

		assert.Equal(t, tt.EndStream, got.EndStream)
		assert.Equal(t, tt.EndHeaders, got.EndHeaders)
		assert.Equal(t, tt.Priority, got.Priority)
		assert.Equal(t, tt.ExclusiveStreamDep, got.ExclusiveStreamDep)
		assert.Equal(t, tt.StreamDependency, got.StreamDependency)
		assert.Equal(t, tt.Weight, got.Weight)
		assert.Equal(t, tt.BlockFragment, got.BlockFragment)
		assert.Equal(t, tt.Framed.Header.StreamID, got.Header().StreamID)
	}
}

func TestParseFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		code ErrorCode
	}{
		{
			name: "too large",
			in:   []byte{0x00, 0x40, 0x01, 0x01, 0x04, 0x00, 0x00, 0x00, 0x01},
			code: ErrFrameSizeError,
		},
		{
			name: "padding exceeds payload",
			in:   []byte{0x00, 0x00, 0x02, 0x01, 0x0c, 0x00, 0x00, 0x00, 0x01, 0x05, 0x82},
			code: ErrProtocolError,
		},
		{
			name: "headers on stream 0",
			in:   []byte{0x00, 0x00, 0x01, 0x01, 0x04, 0x00, 0x00, 0x00, 0x00, 0x82},
			code: ErrProtocolError,
		},
		{
			name: "short settings",
			in:   []byte{0x00, 0x00, 0x03, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00},
			code: ErrFrameSizeError,
		},
	}

	for _, tt := range tests {
		_, err := ParseFrame(bytes.NewReader(tt.in), 16384)
		var cerr *ConnectionError
		require.ErrorAs(t, err, &cerr, tt.name)
		assert.Equal(t, tt.code, cerr.Code, tt.name)
	}
}

func TestParseFrameUnknown(t *testing.T) {
	in := []byte{0x00, 0x00, 0x08, 0x06, 0x00, 0x00, 0x00, 0x00, 0x00, 1, 2, 3, 4, 5, 6, 7, 8}
	frame, err := ParseFrame(bytes.NewReader(in), 16384)
	require.NoError(t, err)
	unknown, ok := frame.(*UnknownFrame)
	require.True(t, ok)
	assert.Equal(t, FramePing, unknown.Header().Type)

	bs, err := unknown.Encode()
	require.NoError(t, err)
	assert.Equal(t, in, bs)
}

func TestSettingsFrameRoundTrip(t *testing.T) {
	settings := NewSettings()
	limit := uint32(8192)
	settings.MaxHeaderListSize = &limit
	settings.HeaderTableSize = 1024

	bs, err := settings.Frame().Encode()
	require.NoError(t, err)

	frame, err := ParseFrame(bytes.NewReader(bs), 16384)
	require.NoError(t, err)
	sf, ok := frame.(*SettingsFrame)
	require.True(t, ok)

	got := NewSettings()
	for _, arg := range sf.Args {
		require.NoError(t, got.SetValue(arg.Param, arg.Value))
	}
	assert.Equal(t, settings, got)
}

func TestSettingsDecodePayload(t *testing.T) {
	settings := NewSettings()
	require.NoError(t, settings.DecodePayload([]byte{0x00, 0x01, 0x00, 0x00, 0x01, 0x00}))
	assert.Equal(t, uint32(256), settings.HeaderTableSize)

	err := settings.DecodePayload([]byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x01})
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrProtocolError, cerr.Code)

	assert.Error(t, settings.DecodePayload([]byte{0x00, 0x01}))
}

func TestGoAwayFrameRoundTrip(t *testing.T) {
	g := &GoAwayFrame{LastStreamID: 7, ErrorCode: ErrCompressionError, Opaque: []byte("bad block")}
	bs, err := g.Encode()
	require.NoError(t, err)

	frame, err := ParseFrame(bytes.NewReader(bs), 16384)
	require.NoError(t, err)
	got, ok := frame.(*GoAwayFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(7), got.LastStreamID)
	assert.Equal(t, ErrCompressionError, got.ErrorCode)
	assert.Equal(t, []byte("bad block"), got.Opaque)
	assert.Equal(t, "COMPRESSION_ERROR", got.ErrorCode.String())
}
