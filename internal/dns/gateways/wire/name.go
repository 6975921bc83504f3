package wire

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/haukened/rr-cache/internal/dns/domain"
)

const (
	pointerMask       = 0xC0
	pointerOffsetMask = 0x3FFF
	maxLabelLength    = 63
	maxNameLength     = 255
)

// decodeName reads a possibly compressed domain name starting at offset and
// returns it together with the offset at which parsing of the enclosing
// message continues.
//
// A compression pointer must target a position strictly before the start of
// the label run that contains it. Every jump therefore moves backwards, which
// bounds the walk and rejects self-references and cycles.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	runStart := offset
	resume := -1
	nameLen := 0

	for {
		if pos >= len(data) {
			return "", 0, fmt.Errorf("%w: name at offset %d runs past end of buffer", domain.ErrMalformedPacket, offset)
		}
		length := int(data[pos])

		switch {
		case length == 0:
			if resume >= 0 {
				return strings.Join(labels, "."), resume, nil
			}
			return strings.Join(labels, "."), pos + 1, nil

		case length&pointerMask == pointerMask:
			if pos+1 >= len(data) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer at offset %d", domain.ErrMalformedPacket, pos)
			}
			target := int(binary.BigEndian.Uint16(data[pos:]) & pointerOffsetMask)
			if target >= runStart {
				return "", 0, fmt.Errorf("%w: compression pointer at offset %d to %d does not point backwards", domain.ErrMalformedPacket, pos, target)
			}
			// only the outermost pointer decides where the enclosing message resumes
			if resume < 0 {
				resume = pos + 2
			}
			pos = target
			runStart = target

		case length&pointerMask != 0:
			return "", 0, fmt.Errorf("%w: reserved label type 0x%02x at offset %d", domain.ErrMalformedPacket, length&pointerMask, pos)

		default:
			pos++
			if pos+length > len(data) {
				return "", 0, fmt.Errorf("%w: label at offset %d overruns buffer", domain.ErrMalformedPacket, pos-1)
			}
			nameLen += length + 1
			if nameLen > maxNameLength {
				return "", 0, fmt.Errorf("%w: name at offset %d exceeds %d bytes", domain.ErrMalformedPacket, offset, maxNameLength)
			}
			labels = append(labels, string(data[pos:pos+length]))
			pos += length
		}
	}
}

// compressor writes names using suffix compression. It remembers the offset
// at which every suffix was first written so later names can point at it.
type compressor struct {
	offsets map[string]int
}

func newCompressor() *compressor {
	return &compressor{offsets: make(map[string]int)}
}

// appendName encodes name onto buf. Suffixes are tried from the most specific
// outward; the first one already written becomes a pointer and ends the name.
func (c *compressor) appendName(buf []byte, name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if len(name) > maxNameLength-1 {
		return nil, fmt.Errorf("name too long: %d bytes", len(name))
	}
	for name != "" {
		if off, ok := c.offsets[name]; ok {
			return append(buf, byte(pointerMask|off>>8), byte(off)), nil
		}
		label, rest, _ := strings.Cut(name, ".")
		if label == "" {
			return nil, fmt.Errorf("empty label in %q", name)
		}
		if len(label) > maxLabelLength {
			return nil, fmt.Errorf("label too long: %s", label)
		}
		// suffixes beyond the 14-bit pointer range are written but not remembered
		if len(buf) <= pointerOffsetMask {
			c.offsets[name] = len(buf)
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
		name = rest
	}
	return append(buf, 0), nil
}
