// Package recordcache holds the most recent upstream response per record type
// and name. Cached messages keep their wire buffers, which are patched in
// place on every hit so replayed TTLs age down across hits.
package recordcache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/domain"
)

// ErrInvalidSize is returned for a non-positive subcache bound.
var ErrInvalidSize = errors.New("cache size must be positive")

// Entry is a detached copy of one cached message, used for persistence.
type Entry struct {
	Type domain.RRType
	Name string
	Data []byte
}

// Stats reports cumulative store activity.
type Stats struct {
	AddressEntries    int
	NameServerEntries int
	Hits              uint64
	Misses            uint64
	Swept             uint64
	Evicted           uint64
}

// subcache maps names to messages for a single record type. mu serializes
// every read and mutation of the messages it holds, including buffer patches.
type subcache struct {
	rrtype domain.RRType
	mu     sync.Mutex
	lru    *lru.Cache[string, *domain.Message]
}

// Store is the TTL-aware record store shared by the request path and the
// sweep task. It holds one subcache for address and one for name-server
// lookups, each bounded to size names.
type Store struct {
	address    *subcache
	nameServer *subcache
	glue       *glueIndex // guarded by address.mu
	logger     log.Logger

	hits    atomic.Uint64
	misses  atomic.Uint64
	swept   atomic.Uint64
	evicted atomic.Uint64
}

// New returns an empty store whose subcaches hold at most size names each.
func New(size int, logger log.Logger) (*Store, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	a, err := newSubcache(domain.RRTypeA, size)
	if err != nil {
		return nil, err
	}
	ns, err := newSubcache(domain.RRTypeNS, size)
	if err != nil {
		return nil, err
	}
	return &Store{
		address:    a,
		nameServer: ns,
		glue:       newGlueIndex(uint(size)),
		logger:     logger,
	}, nil
}

func newSubcache(t domain.RRType, size int) (*subcache, error) {
	c, err := lru.New[string, *domain.Message](size)
	if err != nil {
		return nil, err
	}
	return &subcache{rrtype: t, lru: c}, nil
}

func (s *Store) subcache(t domain.RRType) (*subcache, error) {
	switch t {
	case domain.RRTypeA:
		return s.address, nil
	case domain.RRTypeNS:
		return s.nameServer, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedRecordType, t)
	}
}

// Lookup returns the cached message for an exact (type, name) match. The
// message remains owned by the store; callers that mutate it must go through
// PatchTTL and PatchTransactionID. The request path uses Replay, which runs
// the same steps under a single lock.
func (s *Store) Lookup(t domain.RRType, name string) (*domain.Message, bool) {
	sc, err := s.subcache(t)
	if err != nil {
		return nil, false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return s.lookupLocked(sc, name)
}

// Insert stores msg under (t, name), replacing any earlier message.
func (s *Store) Insert(t domain.RRType, name string, msg *domain.Message) error {
	sc, err := s.subcache(t)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.lru.Add(name, msg) {
		s.evicted.Add(1)
		if sc == s.address {
			s.glue.markStale()
		}
	}
	if sc == s.address && len(msg.NameServers()) > 0 {
		s.glue.add(msg.QuestionNames())
	}
	return nil
}

// PatchTTL rewrites the TTLs in the stored buffer of msg to the time
// remaining at now. t selects the subcache whose lock guards msg.
func (s *Store) PatchTTL(t domain.RRType, msg *domain.Message, now time.Time) error {
	sc, err := s.subcache(t)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	patchTTLLocked(msg, now)
	return nil
}

// PatchTransactionID rewrites the id of msg in its stored buffer and header.
func (s *Store) PatchTransactionID(t domain.RRType, msg *domain.Message, id uint16) error {
	sc, err := s.subcache(t)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	patchTransactionIDLocked(msg, id)
	return nil
}

// Replay serves a cache hit: lookup, PatchTTL and PatchTransactionID under
// one lock, returning a copy of the patched bytes for transmission.
func (s *Store) Replay(t domain.RRType, name string, id uint16, now time.Time) ([]byte, bool) {
	sc, err := s.subcache(t)
	if err != nil {
		return nil, false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	msg, ok := s.lookupLocked(sc, name)
	if !ok {
		return nil, false
	}
	patchTTLLocked(msg, now)
	patchTransactionIDLocked(msg, id)
	return msg.Wire(), true
}

// The helpers below expect sc.mu to be held.

func (s *Store) lookupLocked(sc *subcache, name string) (*domain.Message, bool) {
	msg, ok := sc.lru.Get(name)
	s.count(ok)
	return msg, ok
}

func patchTTLLocked(msg *domain.Message, now time.Time) { msg.RefreshTTLs(now) }

func patchTransactionIDLocked(msg *domain.Message, id uint16) { msg.SetTransactionID(id) }

// Sweep removes every entry whose first answer expired at or before now and
// returns how many were removed. Entries without answers are kept.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, sc := range []*subcache{s.address, s.nameServer} {
		n := s.sweepSubcache(sc, now)
		removed += n
	}
	s.swept.Add(uint64(removed))
	return removed
}

func (s *Store) sweepSubcache(sc *subcache, now time.Time) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	removed := 0
	for _, name := range sc.lru.Keys() {
		msg, ok := sc.lru.Peek(name)
		if !ok || !msg.IsExpired(now) {
			continue
		}
		sc.lru.Remove(name)
		removed++
		s.logger.Debug(map[string]any{
			"type": sc.rrtype.String(),
			"name": name,
		}, "Evicted expired cache entry")
	}
	if sc == s.address && (removed > 0 || s.glue.isStale()) {
		s.rebuildGlue()
	}
	return removed
}

// rebuildGlue repopulates the glue index from the address subcache.
// Callers hold address.mu.
func (s *Store) rebuildGlue() {
	s.glue.reset()
	for _, name := range s.address.lru.Keys() {
		if msg, ok := s.address.lru.Peek(name); ok && len(msg.NameServers()) > 0 {
			s.glue.add(msg.QuestionNames())
		}
	}
}

// FindGlue scans the address subcache for a message whose question names
// intersect names and which carries name-server authority records. It
// returns those records; newer entries are preferred.
func (s *Store) FindGlue(names []string) ([]domain.ResourceRecord, bool) {
	sc := s.address
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !s.glue.mightContainAny(names) {
		return nil, false
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	keys := sc.lru.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		msg, ok := sc.lru.Peek(keys[i])
		if !ok {
			continue
		}
		ns := msg.NameServers()
		if len(ns) == 0 {
			continue
		}
		for _, q := range msg.Questions {
			if _, hit := want[q.Name]; hit {
				return ns, true
			}
		}
	}
	return nil, false
}

// Snapshot returns detached copies of every cached message with TTLs
// refreshed to now.
func (s *Store) Snapshot(now time.Time) []Entry {
	var out []Entry
	for _, sc := range []*subcache{s.address, s.nameServer} {
		sc.mu.Lock()
		for _, name := range sc.lru.Keys() {
			msg, ok := sc.lru.Peek(name)
			if !ok {
				continue
			}
			patchTTLLocked(msg, now)
			out = append(out, Entry{Type: sc.rrtype, Name: name, Data: msg.Wire()})
		}
		sc.mu.Unlock()
	}
	return out
}

// Len returns the number of names cached for t.
func (s *Store) Len(t domain.RRType) int {
	sc, err := s.subcache(t)
	if err != nil {
		return 0
	}
	return sc.lru.Len()
}

// Stats returns a point-in-time view of store counters.
func (s *Store) Stats() Stats {
	return Stats{
		AddressEntries:    s.address.lru.Len(),
		NameServerEntries: s.nameServer.lru.Len(),
		Hits:              s.hits.Load(),
		Misses:            s.misses.Load(),
		Swept:             s.swept.Load(),
		Evicted:           s.evicted.Load(),
	}
}

func (s *Store) count(hit bool) {
	if hit {
		s.hits.Add(1)
		return
	}
	s.misses.Add(1)
}
