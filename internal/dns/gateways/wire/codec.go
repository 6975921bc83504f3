// Package wire decodes and encodes DNS messages in the RFC 1035 wire format.
//
// Decoding keeps the original buffer inside the returned message and records
// where each TTL lives, so cached packets can be patched and replayed without
// being re-encoded.
package wire

import (
	"time"

	"github.com/haukened/rr-cache/internal/dns/domain"
)

// Codec converts between raw datagrams and messages.
type Codec interface {
	// Decode parses data received at now. Record expirations are computed
	// relative to now. Fails with domain.ErrMalformedPacket.
	Decode(data []byte, now time.Time) (*domain.Message, error)

	// EncodeAnswer synthesizes an authoritative response carrying questions
	// and the given name-server records in the authority section. TTLs are
	// written as the time remaining at now.
	EncodeAnswer(id uint16, questions []domain.Question, authority []domain.ResourceRecord, now time.Time) (*domain.Message, error)
}
