package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/haukened/rr-cache/internal/dns/common/clock"
	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/gateways/wire"
	"github.com/haukened/rr-cache/internal/dns/repos/recordcache"
)

var epoch = time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)

// MockUpstream implements UpstreamClient for testing
type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	args := m.Called(ctx, query)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

// recordingLogger keeps warn messages for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Info(map[string]any, string)  {}
func (l *recordingLogger) Error(map[string]any, string) {}
func (l *recordingLogger) Debug(map[string]any, string) {}
func (l *recordingLogger) Panic(map[string]any, string) {}
func (l *recordingLogger) Fatal(map[string]any, string) {}
func (l *recordingLogger) Warn(_ map[string]any, msg string) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) With(map[string]any) log.Logger { return l }

func (l *recordingLogger) warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

type fixture struct {
	resolver *Resolver
	store    *recordcache.Store
	upstream *MockUpstream
	clock    *clock.MockClock
	logger   *recordingLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := recordcache.New(100, log.NewNoopLogger())
	require.NoError(t, err)
	f := &fixture{
		store:    store,
		upstream: &MockUpstream{},
		clock:    clock.NewMockClock(epoch),
		logger:   &recordingLogger{},
	}
	f.resolver = NewResolver(ResolverOptions{
		Clock:    f.clock,
		Codec:    wire.NewUDPCodec(log.NewNoopLogger()),
		Logger:   f.logger,
		Store:    store,
		Upstream: f.upstream,
	})
	return f
}

// query packs a client query with one question per type.
func query(t *testing.T, id uint16, name string, types ...uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.Id = id
	m.RecursionDesired = true
	for _, qt := range types {
		m.Question = append(m.Question, dns.Question{Name: dns.Fqdn(name), Qtype: qt, Qclass: dns.ClassINET})
	}
	raw, err := m.Pack()
	require.NoError(t, err)
	return raw
}

// upstreamReply builds the upstream answer to an A query for name: one
// address answer with ttl and two name-server authority records.
func upstreamReply(t *testing.T, id uint16, name string, ttl uint32) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, Response: true, RecursionDesired: true, RecursionAvailable: true})
	b.EnableCompression()
	qn := dnsmessage.MustNewName(name + ".")
	require.NoError(t, b.StartQuestions())
	require.NoError(t, b.Question(dnsmessage.Question{Name: qn, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}))
	require.NoError(t, b.StartAnswers())
	require.NoError(t, b.AResource(dnsmessage.ResourceHeader{Name: qn, Class: dnsmessage.ClassINET, TTL: ttl}, dnsmessage.AResource{A: [4]byte{192, 0, 2, 1}}))
	require.NoError(t, b.StartAuthorities())
	zone := dnsmessage.MustNewName("test.")
	for _, ns := range []string{"ns1.test.", "ns2.test."} {
		require.NoError(t, b.NSResource(dnsmessage.ResourceHeader{Name: zone, Class: dnsmessage.ClassINET, TTL: 3600}, dnsmessage.NSResource{NS: dnsmessage.MustNewName(ns)}))
	}
	raw, err := b.Finish()
	require.NoError(t, err)
	return raw
}

func unpack(t *testing.T, raw []byte) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	require.NoError(t, m.Unpack(raw))
	return m
}
