package http2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
)

type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

type FrameFlag uint8

const (
	HeadersEndStream  FrameFlag = 0x1
	HeadersEndHeaders FrameFlag = 0x4
	HeadersPadded     FrameFlag = 0x8
	HeadersPriority   FrameFlag = 0x20

	SettingsAck FrameFlag = 0x1

	ContinuationEndHeaders FrameFlag = 0x4
)

type ErrorCode uint32

const (
	ErrNoError            ErrorCode = 0x0
	ErrProtocolError      ErrorCode = 0x1
	ErrInternalError      ErrorCode = 0x2
	ErrFlowControlError   ErrorCode = 0x3
	ErrSettingsTimeout    ErrorCode = 0x4
	ErrStreamClosed       ErrorCode = 0x5
	ErrFrameSizeError     ErrorCode = 0x6
	ErrRefusedStream      ErrorCode = 0x7
	ErrCancel             ErrorCode = 0x8
	ErrCompressionError   ErrorCode = 0x9
	ErrConnectError       ErrorCode = 0xa
	ErrEnhanceYourCalm    ErrorCode = 0xb
	ErrInadequateSecurity ErrorCode = 0xc
	ErrHTTP11Required     ErrorCode = 0xd
)

var errorCodeNames = map[ErrorCode]string{
	ErrNoError:            "NO_ERROR",
	ErrProtocolError:      "PROTOCOL_ERROR",
	ErrInternalError:      "INTERNAL_ERROR",
	ErrFlowControlError:   "FLOW_CONTROL_ERROR",
	ErrSettingsTimeout:    "SETTINGS_TIMEOUT",
	ErrStreamClosed:       "STREAM_CLOSED",
	ErrFrameSizeError:     "FRAME_SIZE_ERROR",
	ErrRefusedStream:      "REFUSED_STREAM",
	ErrCancel:             "CANCEL",
	ErrCompressionError:   "COMPRESSION_ERROR",
	ErrConnectError:       "CONNECT_ERROR",
	ErrEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	ErrInadequateSecurity: "INADEQUATE_SECURITY",
	ErrHTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_ERROR_0x%x", uint32(e))
}

// ConnectionError is fatal for the whole connection; the peer should be sent
// a GOAWAY carrying Code.
type ConnectionError struct {
	Code ErrorCode
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error %s: %v", e.Code, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func connError(code ErrorCode, format string, args ...interface{}) *ConnectionError {
	return &ConnectionError{Code: code, Err: fmt.Errorf(format, args...)}
}

/*
+-----------------------------------------------+
|                 Length (24)                   |
+---------------+---------------+---------------+
|   Type (8)    |   Flags (8)   |
+-+-------------+---------------+-------------------------------+
|R|                 Stream Identifier (31)                      |
+=+=============================================================+
|                   Frame Payload (0...)                      ...
+---------------------------------------------------------------+
*/

const frameHeaderLen = 9

type FrameHeader struct {
	Length   uint32
	Type     FrameType
	Flags    uint8
	StreamID uint32
}

func parseHeader(r io.Reader) (FrameHeader, error) {
	bs := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(r, bs); err != nil {
		return FrameHeader{}, err
	}

	return FrameHeader{
		Length:   uint32(bs[0])<<16 | uint32(bs[1])<<8 | uint32(bs[2]),
		Type:     FrameType(bs[3]),
		Flags:    bs[4],
		StreamID: binary.BigEndian.Uint32(bs[5:]) & (1<<31 - 1),
	}, nil
}

func (fr FrameHeader) hasFlag(flag FrameFlag) bool {
	return fr.Flags&uint8(flag) == uint8(flag)
}

type Frame interface {
	Header() FrameHeader
	Decode() error
	Encode() ([]byte, error)
}

type frameParserFunc func(Framed) Frame

var frameParsers = map[FrameType]frameParserFunc{
	FrameHeaders:      headersFrame,
	FrameSettings:     settingsFrame,
	FrameGoAway:       goAwayFrame,
	FrameContinuation: continuationFrame,
}

type Framed struct {
	Header  FrameHeader
	Payload []byte
}

var ErrExceedsMaxFrameSize = errors.New("exceeds MAX_FRAME_SIZE")

// ParseFrame reads one frame. Frame types the header codec does not need
// come back as *UnknownFrame with their payload intact.
func ParseFrame(r io.Reader, maxSize uint32) (Frame, error) {
	frame := Framed{}
	var err error
	frame.Header, err = parseHeader(r)
	if err != nil {
		return nil, err
	}

	if frame.Header.Length > maxSize {
		return nil, &ConnectionError{Code: ErrFrameSizeError, Err: ErrExceedsMaxFrameSize}
	}

	frame.Payload = make([]byte, frame.Header.Length)
	if _, err := io.ReadFull(r, frame.Payload); err != nil {
		return nil, err
	}

	glog.V(4).Infof("parsing %+v", frame.Header)

	parserFn, ok := frameParsers[frame.Header.Type]
	if !ok {
		return &UnknownFrame{Framed: frame}, nil
	}
	f := parserFn(frame)
	if err := f.Decode(); err != nil {
		return nil, err
	}
	return f, nil
}

func EncodeFrame(payload []byte, frameType FrameType, flags uint8, streamid uint32) ([]byte, error) {
	n := len(payload)
	if n >= 1<<24 {
		return nil, ErrExceedsMaxFrameSize
	}

	buf := make([]byte, 0, frameHeaderLen+n)
	buf = append(buf,
		byte(n>>16),
		byte(n>>8),
		byte(n),
		byte(frameType),
		byte(flags),
	)

	buf = binary.BigEndian.AppendUint32(buf, streamid&(1<<31-1))

	buf = append(buf, payload...)

	return buf, nil
}

type UnknownFrame struct {
	Framed Framed
}

func (u *UnknownFrame) Header() FrameHeader {
	return u.Framed.Header
}

func (u *UnknownFrame) Decode() error {
	return nil
}

func (u *UnknownFrame) Encode() ([]byte, error) {
	h := u.Framed.Header
	return EncodeFrame(u.Framed.Payload, h.Type, h.Flags, h.StreamID)
}

type HeadersFrame struct {
	Framed Framed

	EndStream  bool
	EndHeaders bool
	Priority   bool
	Padded     bool

	PadLength          uint8
	StreamDependency   uint32
	ExclusiveStreamDep bool
	Weight             uint8
	BlockFragment      []byte
}

func headersFrame(framed Framed) Frame {
	return &HeadersFrame{Framed: framed}
}

func (h *HeadersFrame) Header() FrameHeader {
	return h.Framed.Header
}

func (h *HeadersFrame) Decode() error {
	bs := h.Framed.Payload

	if h.Framed.Header.StreamID == 0 {
		return connError(ErrProtocolError, "HEADERS on stream 0")
	}

	h.EndStream = h.Framed.Header.hasFlag(HeadersEndStream)
	h.EndHeaders = h.Framed.Header.hasFlag(HeadersEndHeaders)
	h.Priority = h.Framed.Header.hasFlag(HeadersPriority)
	h.Padded = h.Framed.Header.hasFlag(HeadersPadded)

	if h.Padded {
		if len(bs) < 1 {
			return connError(ErrFrameSizeError, "HEADERS missing pad length")
		}
		h.PadLength = bs[0]
		bs = bs[1:]
	}

	if h.Priority {
		if len(bs) < 5 {
			return connError(ErrFrameSizeError, "HEADERS missing priority fields")
		}
		h.ExclusiveStreamDep = (bs[0] & 0x80) == 0x80
		h.StreamDependency = binary.BigEndian.Uint32(bs) & (1<<31 - 1)
		h.Weight = bs[4]
		bs = bs[5:]
	}

	if int(h.PadLength) > len(bs) {
		return connError(ErrProtocolError, "HEADERS padding %d exceeds payload", h.PadLength)
	}
	h.BlockFragment = bs[:len(bs)-int(h.PadLength)]
	return nil
}

func (h *HeadersFrame) Encode() ([]byte, error) {
	var flags uint8

	payload := make([]byte, 0, 6+len(h.BlockFragment)+int(h.PadLength))

	if h.EndStream {
		flags |= uint8(HeadersEndStream)
	}

	if h.EndHeaders {
		flags |= uint8(HeadersEndHeaders)
	}

	if h.Padded {
		flags |= uint8(HeadersPadded)
		payload = append(payload, h.PadLength)
	}

	if h.Priority {
		flags |= uint8(HeadersPriority)
		var exclusive byte
		if h.ExclusiveStreamDep {
			exclusive = 1
		}

		payload = append(payload,
			(exclusive<<7)|byte(h.StreamDependency>>24),
			byte(h.StreamDependency>>16),
			byte(h.StreamDependency>>8),
			byte(h.StreamDependency),
			h.Weight,
		)
	}

	payload = append(payload, h.BlockFragment...)

	if h.Padded {
		payload = append(payload, make([]byte, h.PadLength)...)
	}

	return EncodeFrame(payload, FrameHeaders, flags, h.Framed.Header.StreamID)
}

type SettingsFrame struct {
	Framed Framed

	Ack  bool
	Args []SettingFrameArgs
}

func settingsFrame(framed Framed) Frame {
	return &SettingsFrame{Framed: framed}
}

type SettingFrameArgs struct {
	Param SettingsParam
	Value uint32
}

func (s *SettingsFrame) Header() FrameHeader {
	return s.Framed.Header
}

func (s *SettingsFrame) Decode() error {
	bs := s.Framed.Payload
	if s.Framed.Header.StreamID != 0 {
		return connError(ErrProtocolError, "SETTINGS on stream %d", s.Framed.Header.StreamID)
	}
	if len(bs)%6 != 0 {
		return connError(ErrFrameSizeError, "SETTINGS payload length %d", len(bs))
	}

	s.Ack = s.Framed.Header.hasFlag(SettingsAck)
	if s.Ack && len(bs) > 0 {
		return connError(ErrFrameSizeError, "SETTINGS ack with payload")
	}

	s.Args = make([]SettingFrameArgs, 0, len(bs)/6)
	for len(bs) > 0 {
		s.Args = append(s.Args, SettingFrameArgs{
			Param: SettingsParam(binary.BigEndian.Uint16(bs[0:])),
			Value: binary.BigEndian.Uint32(bs[2:]),
		})
		bs = bs[6:]
	}
	return nil
}

func (s *SettingsFrame) Encode() ([]byte, error) {
	payload := make([]byte, 0, 6*len(s.Args))

	for _, arg := range s.Args {
		payload = binary.BigEndian.AppendUint16(payload, uint16(arg.Param))
		payload = binary.BigEndian.AppendUint32(payload, arg.Value)
	}

	var flags uint8
	if s.Ack {
		flags |= uint8(SettingsAck)
	}

	return EncodeFrame(payload, FrameSettings, flags, 0)
}

type GoAwayFrame struct {
	Framed Framed

	LastStreamID uint32
	ErrorCode    ErrorCode
	Opaque       []byte
}

func goAwayFrame(framed Framed) Frame {
	return &GoAwayFrame{Framed: framed}
}

func (g *GoAwayFrame) Header() FrameHeader {
	return g.Framed.Header
}

func (g *GoAwayFrame) Decode() error {
	bs := g.Framed.Payload
	if len(bs) < 8 {
		return connError(ErrFrameSizeError, "GOAWAY payload length %d", len(bs))
	}
	g.LastStreamID = binary.BigEndian.Uint32(bs) & ((1 << 31) - 1)
	g.ErrorCode = ErrorCode(binary.BigEndian.Uint32(bs[4:]))

	if len(bs) > 8 {
		g.Opaque = bs[8:]
	}
	return nil
}

func (g *GoAwayFrame) Encode() ([]byte, error) {
	payload := binary.BigEndian.AppendUint32([]byte{}, g.LastStreamID)
	payload = binary.BigEndian.AppendUint32(payload, uint32(g.ErrorCode))

	if g.Opaque != nil {
		payload = append(payload, g.Opaque...)
	}

	return EncodeFrame(payload, FrameGoAway, 0, 0)
}

type ContinuationFrame struct {
	Framed Framed

	EndHeaders bool

	BlockFragment []byte
}

func continuationFrame(framed Framed) Frame {
	return &ContinuationFrame{Framed: framed}
}

func (c *ContinuationFrame) Header() FrameHeader {
	return c.Framed.Header
}

func (c *ContinuationFrame) Decode() error {
	if c.Framed.Header.StreamID == 0 {
		return connError(ErrProtocolError, "CONTINUATION on stream 0")
	}
	c.EndHeaders = c.Framed.Header.hasFlag(ContinuationEndHeaders)

	c.BlockFragment = c.Framed.Payload
	return nil
}

func (c *ContinuationFrame) Encode() ([]byte, error) {
	var flags uint8
	if c.EndHeaders {
		flags |= uint8(ContinuationEndHeaders)
	}

	return EncodeFrame(c.BlockFragment, FrameContinuation, flags, c.Framed.Header.StreamID)
}
