package recordcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/domain"
	"github.com/haukened/rr-cache/internal/dns/gateways/wire"
)

var epoch = time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T, size int) *Store {
	t.Helper()
	s, err := New(size, log.NewNoopLogger())
	require.NoError(t, err)
	return s
}

type answer struct {
	ttl uint32
	ip  [4]byte
}

// packet builds a response for name/A with the given answers and, when
// nameServers is non-empty, NS authority records for the parent zone.
func packet(t *testing.T, id uint16, name string, answers []answer, nameServers ...string) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(make([]byte, 0, 512), dnsmessage.Header{ID: id, Response: true, RecursionAvailable: true})
	b.EnableCompression()
	qn := dnsmessage.MustNewName(name + ".")
	require.NoError(t, b.StartQuestions())
	require.NoError(t, b.Question(dnsmessage.Question{Name: qn, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}))
	require.NoError(t, b.StartAnswers())
	for _, a := range answers {
		require.NoError(t, b.AResource(dnsmessage.ResourceHeader{Name: qn, Class: dnsmessage.ClassINET, TTL: a.ttl}, dnsmessage.AResource{A: a.ip}))
	}
	require.NoError(t, b.StartAuthorities())
	for _, ns := range nameServers {
		hdr := dnsmessage.ResourceHeader{Name: dnsmessage.MustNewName("test."), Class: dnsmessage.ClassINET, TTL: 3600}
		require.NoError(t, b.NSResource(hdr, dnsmessage.NSResource{NS: dnsmessage.MustNewName(ns + ".")}))
	}
	raw, err := b.Finish()
	require.NoError(t, err)
	return raw
}

func decode(t *testing.T, raw []byte, now time.Time) *domain.Message {
	t.Helper()
	msg, err := wire.NewUDPCodec(log.NewNoopLogger()).Decode(raw, now)
	require.NoError(t, err)
	return msg
}
