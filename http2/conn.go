package http2

import (
	"bufio"
	"errors"
	"io"

	"github.com/golang/glog"
	"github.com/jakegut/gohpack/hpack"
)

// BlockHandler receives each decoded header block in arrival order.
type BlockHandler func(*HeaderBlock) error

// Conn drives the header-compression side of one HTTP/2 connection: it reads
// frames, keeps SETTINGS in step and hands complete header blocks to Handler.
// Everything else is ignored.
type Conn struct {
	rw        io.ReadWriter
	bufreader *bufio.Reader

	codec *HeaderCodec
	local *ConnectionSettings

	lastStreamID uint32

	Handler BlockHandler
}

func NewConn(rw io.ReadWriter, cfg CodecConfig, handler BlockHandler) *Conn {
	if cfg.Local == nil {
		cfg.Local = NewSettings()
	}
	return &Conn{
		rw:        rw,
		bufreader: bufio.NewReader(rw),
		codec:     NewHeaderCodec(cfg),
		local:     cfg.Local,
		Handler:   handler,
	}
}

// Codec returns the connection's header codec.
func (c *Conn) Codec() *HeaderCodec {
	return c.codec
}

// WriteSettings advertises the local settings.
func (c *Conn) WriteSettings() error {
	bs, err := c.local.Frame().Encode()
	if err != nil {
		return err
	}
	_, err = c.rw.Write(bs)
	return err
}

// WriteHeaders sends one header block.
func (c *Conn) WriteHeaders(streamID uint32, fields []hpack.HeaderField, endStream bool) error {
	return c.codec.WriteHeaders(c.rw, streamID, fields, endStream)
}

// Serve reads frames until EOF, a GOAWAY from the peer, or an error. On a
// connection error it sends GOAWAY before returning the error.
func (c *Conn) Serve() error {
	for {
		frame, err := ParseFrame(c.bufreader, c.local.MaxFrameSize)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return c.abort(err)
		}

		switch fr := frame.(type) {
		case *SettingsFrame:
			if fr.Ack {
				continue
			}
			if err := c.codec.ApplyPeerSettings(fr.Args); err != nil {
				return c.abort(err)
			}
			bs, err := (&SettingsFrame{Ack: true}).Encode()
			if err != nil {
				return err
			}
			if _, err := c.rw.Write(bs); err != nil {
				return err
			}
			continue
		case *GoAwayFrame:
			glog.Infof("peer sent GOAWAY %s, last stream %d", fr.ErrorCode, fr.LastStreamID)
			return nil
		}

		block, err := c.codec.ReadFrame(frame)
		if err != nil {
			return c.abort(err)
		}
		if block == nil {
			continue
		}
		if block.StreamID > c.lastStreamID {
			c.lastStreamID = block.StreamID
		}
		if c.Handler != nil {
			if err := c.Handler(block); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) abort(err error) error {
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		return err
	}
	if c.codec.Err() == nil {
		c.codec.fail(cerr)
	}
	bs, encErr := c.codec.GoAway(c.lastStreamID).Encode()
	if encErr == nil {
		if _, werr := c.rw.Write(bs); werr != nil {
			glog.Warningf("writing GOAWAY: %v", werr)
		}
	}
	return err
}
