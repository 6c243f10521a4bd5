package binfile

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Variant names the record layout family a profile decodes with.
type Variant string

const (
	// VariantStamped records carry seconds since the header start time.
	VariantStamped Variant = "stamped"
	// VariantIndexed records carry an epoch index and the header is CRC protected.
	VariantIndexed Variant = "indexed"
)

// MarkerSize is the byte length of the format marker at the start of a file.
const MarkerSize = 4

// prefixSize covers the marker and the big-endian uint16 version.
const prefixSize = MarkerSize + 2

// Profile describes one device-family binary layout. Markers, widths and
// byte order are configuration; decoders never assume them.
type Profile struct {
	Name       string  `json:"name"`
	Marker     string  `json:"marker"`
	Version    uint16  `json:"version"`
	Variant    Variant `json:"variant"`
	ByteOrder  string  `json:"byte_order"` // big|little
	CountWidth int     `json:"count_width"`
}

// DefaultProfiles returns the two device-family layouts shipped with the tool.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:       "geneactiv-epoch-v1",
			Marker:     "GAE1",
			Version:    1,
			Variant:    VariantStamped,
			ByteOrder:  "big",
			CountWidth: 2,
		},
		{
			Name:       "geneactiv-epoch-v2",
			Marker:     "GAE2",
			Version:    2,
			Variant:    VariantIndexed,
			ByteOrder:  "little",
			CountWidth: 4,
		},
	}
}

// Validate checks that the profile can drive a decoder.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Marker) != MarkerSize || !printable(p.Marker) {
		return fmt.Errorf("profile %s: marker must be %d printable ASCII bytes, got %q", p.Name, MarkerSize, p.Marker)
	}
	switch p.Variant {
	case VariantStamped, VariantIndexed:
	default:
		return fmt.Errorf("profile %s: unsupported variant %q (expected stamped|indexed)", p.Name, p.Variant)
	}
	if _, err := byteOrder(p.ByteOrder); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	switch p.CountWidth {
	case 1, 2, 4:
	default:
		return fmt.Errorf("profile %s: count width must be 1, 2 or 4 bytes, got %d", p.Name, p.CountWidth)
	}
	return nil
}

func byteOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "big":
		return binary.BigEndian, nil
	case "little":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("unsupported byte order %q (expected big|little)", name)
	}
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
