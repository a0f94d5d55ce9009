package main

import (
	"fmt"
	"os"

	"github.com/jakegut/gohpack/hpack"
	"gopkg.in/yaml.v2"
)

// transcript is a sequence of header blocks sent on one connection
// direction, in order.
type transcript struct {
	Blocks []transcriptBlock `yaml:"blocks"`
}

type transcriptBlock struct {
	Stream    uint32            `yaml:"stream"`
	EndStream bool              `yaml:"end_stream"`
	TableSize *uint32           `yaml:"table_size"`
	Headers   []transcriptField `yaml:"headers"`
}

type transcriptField struct {
	Name      string `yaml:"name"`
	Value     string `yaml:"value"`
	Sensitive bool   `yaml:"sensitive"`
}

func loadTranscript(path string) (*transcript, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseTranscript(bs)
}

func parseTranscript(bs []byte) (*transcript, error) {
	t := &transcript{}
	if err := yaml.UnmarshalStrict(bs, t); err != nil {
		return nil, fmt.Errorf("parsing transcript: %w", err)
	}
	for i, b := range t.Blocks {
		for j, f := range b.Headers {
			if f.Name == "" {
				return nil, fmt.Errorf("block %d, header %d: empty name", i, j)
			}
		}
	}
	return t, nil
}

// streamID returns the block's stream, defaulting to consecutive
// client-initiated streams.
func (b transcriptBlock) streamID(i int) uint32 {
	if b.Stream != 0 {
		return b.Stream
	}
	return uint32(2*i + 1)
}

func (b transcriptBlock) fields() []hpack.HeaderField {
	fields := make([]hpack.HeaderField, 0, len(b.Headers))
	for _, f := range b.Headers {
		fields = append(fields, hpack.HeaderField{
			Name:      f.Name,
			Value:     f.Value,
			Sensitive: f.Sensitive,
		})
	}
	return fields
}
