package http2

import "encoding/binary"

type SettingsParam uint16

const (
	SettingsHeaderTableSize      SettingsParam = 0x1
	SettingsEnablePush           SettingsParam = 0x2
	SettingsMaxConcurrentStreams SettingsParam = 0x3
	SettingsInitialWindowSize    SettingsParam = 0x4
	SettingsMaxFrameSize         SettingsParam = 0x5
	SettingsMaxHeaderListSize    SettingsParam = 0x6
)

const (
	minMaxFrameSize = 1 << 14
	maxMaxFrameSize = 1<<24 - 1
)

type ConnectionSettings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    *uint32 // a value of nil indicates unlimited
}

func NewSettings() *ConnectionSettings {
	return &ConnectionSettings{
		HeaderTableSize:      4096,
		EnablePush:           true,
		MaxConcurrentStreams: 64,
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    nil,
	}
}

// SetValue applies one setting. Unknown parameters are ignored.
func (s *ConnectionSettings) SetValue(param SettingsParam, value uint32) error {
	switch param {
	case SettingsHeaderTableSize:
		s.HeaderTableSize = value
	case SettingsEnablePush:
		if value > 1 {
			return connError(ErrProtocolError, "ENABLE_PUSH value %d", value)
		}
		s.EnablePush = value == 1
	case SettingsMaxConcurrentStreams:
		s.MaxConcurrentStreams = value
	case SettingsInitialWindowSize:
		if value > 1<<31-1 {
			return connError(ErrFlowControlError, "INITIAL_WINDOW_SIZE value %d", value)
		}
		s.InitialWindowSize = value
	case SettingsMaxFrameSize:
		if value < minMaxFrameSize || value > maxMaxFrameSize {
			return connError(ErrProtocolError, "MAX_FRAME_SIZE value %d", value)
		}
		s.MaxFrameSize = value
	case SettingsMaxHeaderListSize:
		s.MaxHeaderListSize = &value
	}
	return nil
}

// DecodePayload applies a SETTINGS payload, as carried in the HTTP2-Settings
// upgrade header.
func (s *ConnectionSettings) DecodePayload(bs []byte) error {
	if len(bs)%6 != 0 {
		return connError(ErrFrameSizeError, "settings payload length %d", len(bs))
	}
	for len(bs) > 0 {
		ident := binary.BigEndian.Uint16(bs[0:])
		value := binary.BigEndian.Uint32(bs[2:])
		if err := s.SetValue(SettingsParam(ident), value); err != nil {
			return err
		}
		bs = bs[6:]
	}
	return nil
}

// Frame returns a SETTINGS frame advertising s.
func (s *ConnectionSettings) Frame() *SettingsFrame {
	args := []SettingFrameArgs{
		{Param: SettingsHeaderTableSize, Value: s.HeaderTableSize},
		{Param: SettingsMaxConcurrentStreams, Value: s.MaxConcurrentStreams},
		{Param: SettingsInitialWindowSize, Value: s.InitialWindowSize},
		{Param: SettingsMaxFrameSize, Value: s.MaxFrameSize},
	}
	push := uint32(0)
	if s.EnablePush {
		push = 1
	}
	args = append(args, SettingFrameArgs{Param: SettingsEnablePush, Value: push})
	if s.MaxHeaderListSize != nil {
		args = append(args, SettingFrameArgs{Param: SettingsMaxHeaderListSize, Value: *s.MaxHeaderListSize})
	}
	return &SettingsFrame{Args: args}
}
