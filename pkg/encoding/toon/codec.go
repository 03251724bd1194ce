// Package toon renders stored widgets for terminal output as TOON or JSON.
package toon

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alpkeskin/gotoon"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOON Format = "toon"
)

// ParseFormat accepts "json" or "toon", case-insensitively. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatTOON:
		return FormatTOON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json or toon)", s)
	}
}

// Codec encodes values in one Format.
type Codec struct {
	format Format
}

// New creates a codec for format.
func New(format Format) *Codec {
	return &Codec{format: format}
}

// Format returns the codec's output format.
func (c *Codec) Format() Format {
	return c.format
}

// Marshal encodes v. TOON output is produced from v's JSON form, so struct
// tags and custom marshalers apply in both formats.
func (c *Codec) Marshal(v any) ([]byte, error) {
	if c.format != FormatTOON || v == nil {
		return json.MarshalIndent(v, "", "  ")
	}
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	encoded, err := gotoon.Encode(generic)
	if err != nil {
		return nil, fmt.Errorf("toon encode: %w", err)
	}
	return []byte(encoded), nil
}

func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("toon encode: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("toon encode: %w", err)
	}
	return out, nil
}
