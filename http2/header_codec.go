package http2

import (
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
	"github.com/jakegut/gohpack/hpack"
)

// DefaultMaxBlockSize bounds a reassembled header block.
const DefaultMaxBlockSize = 1 << 20

var ErrCodecClosed = errors.New("header codec closed")

type CodecConfig struct {
	// Local holds the settings we advertise. HeaderTableSize is the
	// decoder's ceiling and MaxHeaderListSize, if set, limits decoded lists.
	Local *ConnectionSettings

	// EncoderTableSize caps the dynamic table kept for the peer's decoder,
	// whatever the peer advertises. Zero means hpack.DefaultTableSize.
	EncoderTableSize uint32

	// MaxBlockSize bounds HEADERS plus CONTINUATION payload for one block.
	// Zero means DefaultMaxBlockSize.
	MaxBlockSize int

	Metrics *Metrics
}

// HeaderBlock is a decoded header block.
type HeaderBlock struct {
	StreamID  uint32
	EndStream bool
	Fields    []hpack.HeaderField
}

type pendingBlock struct {
	streamID  uint32
	endStream bool
	buf       []byte
}

// HeaderCodec owns both hpack directions of one connection. Frames must be
// fed to ReadFrame in arrival order from the connection's single reader, and
// WriteHeaders must be called from its single writer.
type HeaderCodec struct {
	local *ConnectionSettings
	peer  *ConnectionSettings

	decoder *hpack.HPackDecoder
	encoder *hpack.HPackEncoder

	encoderTableSize uint32
	maxBlockSize     int

	pending *pendingBlock

	metrics *Metrics

	err *ConnectionError
}

func NewHeaderCodec(cfg CodecConfig) *HeaderCodec {
	local := cfg.Local
	if local == nil {
		local = NewSettings()
	}
	encoderTableSize := cfg.EncoderTableSize
	if encoderTableSize == 0 {
		encoderTableSize = hpack.DefaultTableSize
	}
	maxBlockSize := cfg.MaxBlockSize
	if maxBlockSize <= 0 {
		maxBlockSize = DefaultMaxBlockSize
	}

	decoder := hpack.NewDecoder(local.HeaderTableSize)
	if local.MaxHeaderListSize != nil {
		decoder.SetMaxHeaderListSize(*local.MaxHeaderListSize)
	}

	// The peer's decoder starts at the protocol default, so our mirror must
	// too, until a size update says otherwise.
	encoder := hpack.NewEncoder(encoderTableSize)
	if encoderTableSize != hpack.DefaultTableSize {
		// Never above the ceiling just configured.
		_ = encoder.SetMaxDynamicTableSize(min(encoderTableSize, hpack.DefaultTableSize))
	}

	return &HeaderCodec{
		local:            local,
		peer:             NewSettings(),
		decoder:          decoder,
		encoder:          encoder,
		encoderTableSize: encoderTableSize,
		maxBlockSize:     maxBlockSize,
		metrics:          cfg.Metrics,
	}
}

// ReadFrame feeds one received frame to the codec. It returns a HeaderBlock
// once END_HEADERS completes a block, and nil otherwise. A returned
// *ConnectionError is permanent.
func (c *HeaderCodec) ReadFrame(f Frame) (*HeaderBlock, error) {
	if c.err != nil {
		return nil, c.err
	}

	switch fr := f.(type) {
	case *HeadersFrame:
		if c.pending != nil {
			return nil, c.fail(connError(ErrProtocolError, "HEADERS on stream %d while block open on stream %d", fr.Header().StreamID, c.pending.streamID))
		}
		c.pending = &pendingBlock{
			streamID:  fr.Header().StreamID,
			endStream: fr.EndStream,
		}
		if err := c.appendFragment(fr.BlockFragment); err != nil {
			return nil, err
		}
		if fr.EndHeaders {
			return c.finishBlock()
		}
		return nil, nil
	case *ContinuationFrame:
		if c.pending == nil {
			return nil, c.fail(connError(ErrProtocolError, "CONTINUATION on stream %d without open block", fr.Header().StreamID))
		}
		if fr.Header().StreamID != c.pending.streamID {
			return nil, c.fail(connError(ErrProtocolError, "CONTINUATION on stream %d while block open on stream %d", fr.Header().StreamID, c.pending.streamID))
		}
		if err := c.appendFragment(fr.BlockFragment); err != nil {
			return nil, err
		}
		if fr.EndHeaders {
			return c.finishBlock()
		}
		return nil, nil
	default:
		if c.pending != nil {
			return nil, c.fail(connError(ErrProtocolError, "frame type %d while block open on stream %d", f.Header().Type, c.pending.streamID))
		}
		return nil, nil
	}
}

func (c *HeaderCodec) appendFragment(frag []byte) error {
	if len(c.pending.buf)+len(frag) > c.maxBlockSize {
		return c.fail(connError(ErrEnhanceYourCalm, "header block on stream %d exceeds %d bytes", c.pending.streamID, c.maxBlockSize))
	}
	c.pending.buf = append(c.pending.buf, frag...)
	glog.V(2).Infof("stream %d: header block fragment of %d bytes, %d buffered", c.pending.streamID, len(frag), len(c.pending.buf))
	return nil
}

func (c *HeaderCodec) finishBlock() (*HeaderBlock, error) {
	p := c.pending
	c.pending = nil

	fields, err := c.decoder.Decode(p.buf)
	if err != nil {
		c.metrics.observeError(err)
		return nil, c.fail(&ConnectionError{Code: ErrCompressionError, Err: err})
	}
	c.metrics.observeBlock(directionDecode, p.buf, fields, c.decoder)
	glog.V(3).Infof("stream %d: decoded %d fields from %d bytes, table %d/%d", p.streamID, len(fields), len(p.buf), c.decoder.DynamicTableSize(), c.decoder.MaxDynamicTableSize())

	return &HeaderBlock{
		StreamID:  p.streamID,
		EndStream: p.endStream,
		Fields:    fields,
	}, nil
}

func (c *HeaderCodec) fail(err *ConnectionError) *ConnectionError {
	glog.Errorf("header codec: %v", err)
	c.err = err
	return err
}

// WriteHeaders encodes fields and writes them as one HEADERS frame followed
// by as many CONTINUATION frames as the peer's MAX_FRAME_SIZE requires. A
// write error leaves the encoder ahead of the peer; the connection must be
// closed.
func (c *HeaderCodec) WriteHeaders(w io.Writer, streamID uint32, fields []hpack.HeaderField, endStream bool) error {
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrCodecClosed, c.err)
	}
	if streamID == 0 {
		return errors.New("HEADERS on stream 0")
	}
	if limit := c.peer.MaxHeaderListSize; limit != nil {
		var total uint64
		for _, hf := range fields {
			total += uint64(hf.Size())
		}
		if total > uint64(*limit) {
			return fmt.Errorf("%w: %d bytes, peer allows %d", hpack.ErrHeaderListTooLarge, total, *limit)
		}
	}

	block := c.encoder.Encode(fields)
	c.metrics.observeBlock(directionEncode, block, fields, c.encoder)
	glog.V(3).Infof("stream %d: encoded %d fields into %d bytes, table %d/%d", streamID, len(fields), len(block), c.encoder.DynamicTableSize(), c.encoder.MaxDynamicTableSize())

	maxFrame := int(c.peer.MaxFrameSize)
	first := true
	for first || len(block) > 0 {
		n := min(len(block), maxFrame)
		frag := block[:n]
		block = block[n:]

		var frame Frame
		hdr := Framed{Header: FrameHeader{StreamID: streamID}}
		if first {
			frame = &HeadersFrame{
				Framed:        hdr,
				EndStream:     endStream,
				EndHeaders:    len(block) == 0,
				BlockFragment: frag,
			}
		} else {
			frame = &ContinuationFrame{
				Framed:        hdr,
				EndHeaders:    len(block) == 0,
				BlockFragment: frag,
			}
		}
		first = false

		bs, err := frame.Encode()
		if err != nil {
			return err
		}
		if _, err := w.Write(bs); err != nil {
			return fmt.Errorf("writing header block for stream %d: %w", streamID, err)
		}
	}
	return nil
}

// ApplyPeerSettings records the peer's SETTINGS. A new HEADER_TABLE_SIZE is
// sent as a size update at the start of the next encoded block, clamped to
// the configured encoder table size.
func (c *HeaderCodec) ApplyPeerSettings(args []SettingFrameArgs) error {
	for _, arg := range args {
		if err := c.peer.SetValue(arg.Param, arg.Value); err != nil {
			var cerr *ConnectionError
			if errors.As(err, &cerr) {
				return c.fail(cerr)
			}
			return err
		}
		if arg.Param == SettingsHeaderTableSize {
			size := min(arg.Value, c.encoderTableSize)
			if err := c.encoder.SetMaxDynamicTableSize(size); err != nil {
				return err
			}
			glog.V(2).Infof("peer HEADER_TABLE_SIZE %d, encoder table limit %d", arg.Value, size)
		}
	}
	return nil
}

// Err returns the error that closed the codec, if any.
func (c *HeaderCodec) Err() error {
	if c.err == nil {
		return nil
	}
	return c.err
}

// GoAway builds the GOAWAY frame for the error that closed the codec.
func (c *HeaderCodec) GoAway(lastStreamID uint32) *GoAwayFrame {
	code := ErrNoError
	var opaque []byte
	if c.err != nil {
		code = c.err.Code
		opaque = []byte(c.err.Err.Error())
	}
	return &GoAwayFrame{
		LastStreamID: lastStreamID,
		ErrorCode:    code,
		Opaque:       opaque,
	}
}

// Decoder exposes the receive-side hpack state.
func (c *HeaderCodec) Decoder() *hpack.HPackDecoder {
	return c.decoder
}

// Encoder exposes the send-side hpack state.
func (c *HeaderCodec) Encoder() *hpack.HPackEncoder {
	return c.encoder
}
