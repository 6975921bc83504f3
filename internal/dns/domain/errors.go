package domain

import "errors"

var (
	// ErrMalformedPacket marks input that cannot be decoded: the buffer ended
	// before a fixed-size field, a label ran past the end, or a compression
	// pointer would not terminate.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrUnsupportedRecordType marks a record whose type the codec does not
	// understand. It is never fatal; such records are decoded as addresses.
	ErrUnsupportedRecordType = errors.New("unsupported record type")
)
