package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jakegut/gohpack/hpack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() options {
	return options{
		tableSize:    hpack.DefaultTableSize,
		maxFrameSize: 16384,
		file:         filepath.Join("testdata", "requests.yaml"),
	}
}

func TestParseTranscript(t *testing.T) {
	tr, err := loadTranscript(filepath.Join("testdata", "requests.yaml"))
	require.NoError(t, err)
	require.Len(t, tr.Blocks, 4)

	assert.Equal(t, uint32(1), tr.Blocks[0].streamID(0))
	assert.Equal(t, uint32(5), tr.Blocks[2].streamID(2))
	assert.Equal(t, uint32(9), tr.Blocks[3].streamID(3))
	require.NotNil(t, tr.Blocks[3].TableSize)
	assert.Equal(t, uint32(0), *tr.Blocks[3].TableSize)
	assert.Equal(t, []hpack.HeaderField{
		{Name: ":method", Value: "POST"},
		{Name: "authorization", Value: "Bearer abc", Sensitive: true},
	}, tr.Blocks[3].fields())
}

func TestParseTranscriptErrors(t *testing.T) {
	_, err := parseTranscript([]byte("blocks:\n  - headers:\n      - {value: x}\n"))
	assert.Error(t, err)

	_, err = parseTranscript([]byte("blockz: []\n"))
	assert.Error(t, err)
}

func TestEncodeThenDecode(t *testing.T) {
	var encoded bytes.Buffer
	require.NoError(t, runEncode(&encoded, testOptions()))

	lines := strings.Split(strings.TrimSpace(encoded.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "828684418cf1e3c2e5f23a6ba0ab90f4ff", lines[0])
	assert.Equal(t, "828684be5886a8eb10649cbf", lines[1])

	var decoded bytes.Buffer
	require.NoError(t, runDecode(&encoded, &decoded, testOptions()))
	out := decoded.String()
	assert.Contains(t, out, "# block 0 (17 bytes, table 57/4096)\n:method: GET\n")
	assert.Contains(t, out, "custom-key: custom-value\n")
	assert.Contains(t, out, "authorization: Bearer abc (never indexed)\n")
	assert.Contains(t, out, "table 0/0")
}

func TestDecodeRejectsBadBlock(t *testing.T) {
	var out bytes.Buffer
	err := runDecode(strings.NewReader("# comment\n\n82\nbe\n"), &out, testOptions())
	assert.ErrorIs(t, err, hpack.ErrIndexOutOfBounds)
	assert.Contains(t, out.String(), ":method: GET")
}

func TestReplay(t *testing.T) {
	for _, tableSize := range []uint32{256, hpack.DefaultTableSize, 8192} {
		opts := testOptions()
		opts.tableSize = tableSize

		var out bytes.Buffer
		require.NoError(t, runReplay(&out, opts), "table size %d", tableSize)
		assert.Contains(t, out.String(), "blocks: 4\n")
		assert.Contains(t, out.String(), "dynamic table: 0 entries, 0 bytes\n")
	}
}
