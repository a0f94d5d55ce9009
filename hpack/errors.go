package hpack

import (
	"errors"
	"fmt"
)

var (
	ErrIndexOutOfBounds        = errors.New("hpack: index not in addressable space")
	ErrIntegerOverflow         = errors.New("hpack: integer overflow")
	ErrHuffmanPadding          = errors.New("hpack: invalid huffman padding")
	ErrHuffmanDecode           = errors.New("hpack: invalid huffman code")
	ErrStringLengthMismatch    = errors.New("hpack: string length exceeds block")
	ErrTableSizeUpdateTooLarge = errors.New("hpack: table size update above limit")
	ErrTruncatedInput          = errors.New("hpack: truncated input")

	ErrUnexpectedSizeUpdate = errors.New("hpack: table size update after header field")
	ErrStringTooLong        = errors.New("hpack: string literal too long")
	ErrHeaderListTooLarge   = errors.New("hpack: header list too large")

	// ErrDecoderBroken is returned by every Decode call after a failed one.
	// The dynamic table may be out of sync with the peer at that point.
	ErrDecoderBroken = errors.New("hpack: decoder unusable after earlier error")
)

// A DecodingError reports the failing instruction's offset within the
// header block.
type DecodingError struct {
	Offset int
	Err    error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decoding header block at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}
