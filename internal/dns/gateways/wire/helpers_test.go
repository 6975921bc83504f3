package wire

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/haukened/rr-cache/internal/dns/common/log"
)

// recordingLogger keeps warn messages so lenient decoding can be asserted.
type recordingLogger struct {
	mu    sync.Mutex
	warns []map[string]any
}

func (l *recordingLogger) Info(map[string]any, string)  {}
func (l *recordingLogger) Error(map[string]any, string) {}
func (l *recordingLogger) Debug(map[string]any, string) {}
func (l *recordingLogger) Panic(map[string]any, string) {}
func (l *recordingLogger) Fatal(map[string]any, string) {}
func (l *recordingLogger) Warn(fields map[string]any, _ string) {
	l.mu.Lock()
	l.warns = append(l.warns, fields)
	l.mu.Unlock()
}
func (l *recordingLogger) With(map[string]any) log.Logger { return l }

func mustName(t *testing.T, s string) dnsmessage.Name {
	t.Helper()
	n, err := dnsmessage.NewName(s)
	require.NoError(t, err)
	return n
}

// buildUpstreamResponse packs a compressed response for x.test A with two
// address answers, two NS authority records and an AAAA additional record.
func buildUpstreamResponse(t *testing.T, id uint16) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(make([]byte, 0, 512), dnsmessage.Header{
		ID:                 id,
		Response:           true,
		RecursionDesired:   true,
		RecursionAvailable: true,
	})
	b.EnableCompression()

	require.NoError(t, b.StartQuestions())
	require.NoError(t, b.Question(dnsmessage.Question{Name: mustName(t, "x.test."), Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}))

	require.NoError(t, b.StartAnswers())
	hdr := dnsmessage.ResourceHeader{Name: mustName(t, "x.test."), Class: dnsmessage.ClassINET, TTL: 300}
	require.NoError(t, b.AResource(hdr, dnsmessage.AResource{A: [4]byte{192, 0, 2, 1}}))
	hdr.TTL = 600
	require.NoError(t, b.AResource(hdr, dnsmessage.AResource{A: [4]byte{192, 0, 2, 2}}))

	require.NoError(t, b.StartAuthorities())
	nsHdr := dnsmessage.ResourceHeader{Name: mustName(t, "test."), Class: dnsmessage.ClassINET, TTL: 3600}
	require.NoError(t, b.NSResource(nsHdr, dnsmessage.NSResource{NS: mustName(t, "ns1.test.")}))
	require.NoError(t, b.NSResource(nsHdr, dnsmessage.NSResource{NS: mustName(t, "ns2.test.")}))

	require.NoError(t, b.StartAdditionals())
	addHdr := dnsmessage.ResourceHeader{Name: mustName(t, "ns1.test."), Class: dnsmessage.ClassINET, TTL: 3600}
	require.NoError(t, b.AAAAResource(addHdr, dnsmessage.AAAAResource{AAAA: [16]byte{0x20, 0x01, 0x0d, 0xb8, 15: 1}}))

	msg, err := b.Finish()
	require.NoError(t, err)
	return msg
}
