package resolver

import (
	"context"
	"time"

	"github.com/haukened/rr-cache/internal/dns/domain"
)

// Codec parses inbound and upstream datagrams and synthesizes NS answers.
type Codec interface {
	Decode(data []byte, now time.Time) (*domain.Message, error)
	EncodeAnswer(id uint16, questions []domain.Question, authority []domain.ResourceRecord, now time.Time) (*domain.Message, error)
}

// RecordStore is the cache consulted before going upstream.
type RecordStore interface {
	// Replay returns the patched bytes of a cached message, stamped with id
	// and TTLs aged to now.
	Replay(t domain.RRType, name string, id uint16, now time.Time) ([]byte, bool)
	Insert(t domain.RRType, name string, msg *domain.Message) error
	// FindGlue returns name-server authority records carried by a cached
	// address response for any of names.
	FindGlue(names []string) ([]domain.ResourceRecord, bool)
}

// UpstreamClient relays raw query bytes to the upstream resolver.
type UpstreamClient interface {
	Exchange(ctx context.Context, query []byte) ([]byte, error)
}
