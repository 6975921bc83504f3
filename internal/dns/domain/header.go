package domain

// Fixed header layout (RFC 1035 4.1.1). All fields are big-endian uint16.
const (
	OffsetID      = 0
	OffsetFlags   = 2
	OffsetQDCount = 4
	OffsetANCount = 6
	OffsetNSCount = 8
	OffsetARCount = 10
	HeaderSize    = 12
)

// Flag bits within the 16-bit flags word.
const (
	FlagResponse           uint16 = 0b1000_0000_0000_0000
	FlagAuthoritative      uint16 = 0b0000_0100_0000_0000
	FlagTruncated          uint16 = 0b0000_0010_0000_0000
	FlagRecursionDesired   uint16 = 0b0000_0001_0000_0000
	FlagRecursionAvailable uint16 = 0b0000_0000_1000_0000

	opcodeMask  uint16 = 0b0111_1000_0000_0000
	opcodeShift        = 11
	rcodeMask   uint16 = 0b0000_0000_0000_1111
)

// Header holds the fixed 12-byte message header.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

func (h Header) IsQuery() bool            { return h.Flags&FlagResponse == 0 }
func (h Header) IsResponse() bool         { return !h.IsQuery() }
func (h Header) Opcode() uint8            { return uint8((h.Flags & opcodeMask) >> opcodeShift) }
func (h Header) RCode() RCode             { return RCode(h.Flags & rcodeMask) }
func (h Header) NoError() bool            { return h.RCode() == NOERROR }
func (h Header) Authoritative() bool      { return h.Flags&FlagAuthoritative != 0 }
func (h Header) Truncated() bool          { return h.Flags&FlagTruncated != 0 }
func (h Header) RecursionDesired() bool   { return h.Flags&FlagRecursionDesired != 0 }
func (h Header) RecursionAvailable() bool { return h.Flags&FlagRecursionAvailable != 0 }
