package recordcache

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/domain"
)

func TestNew_InvalidSize(t *testing.T) {
	_, err := New(0, log.NewNoopLogger())
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestInsertLookup(t *testing.T) {
	s := newStore(t, 10)
	msg := decode(t, packet(t, 1, "x.test", []answer{{300, [4]byte{192, 0, 2, 1}}}), epoch)

	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", msg))

	got, ok := s.Lookup(domain.RRTypeA, "x.test")
	require.True(t, ok)
	assert.Same(t, msg, got)

	_, ok = s.Lookup(domain.RRTypeNS, "x.test")
	assert.False(t, ok, "subcaches are independent")
	_, ok = s.Lookup(domain.RRTypeA, "X.test")
	assert.False(t, ok, "keys are exact")

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 1, stats.AddressEntries)
}

func TestInsert_Replaces(t *testing.T) {
	s := newStore(t, 10)
	first := decode(t, packet(t, 1, "x.test", []answer{{300, [4]byte{192, 0, 2, 1}}}), epoch)
	second := decode(t, packet(t, 2, "x.test", []answer{{300, [4]byte{192, 0, 2, 2}}}), epoch)

	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", first))
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", second))

	got, ok := s.Lookup(domain.RRTypeA, "x.test")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, s.Len(domain.RRTypeA))
}

func TestInsert_UnsupportedType(t *testing.T) {
	s := newStore(t, 10)
	msg := decode(t, packet(t, 1, "x.test", nil), epoch)
	err := s.Insert(domain.RRTypeMX, "x.test", msg)
	assert.ErrorIs(t, err, domain.ErrUnsupportedRecordType)

	_, ok := s.Lookup(domain.RRTypeMX, "x.test")
	assert.False(t, ok)
	assert.ErrorIs(t, s.PatchTTL(domain.RRTypeMX, msg, epoch), domain.ErrUnsupportedRecordType)
	assert.ErrorIs(t, s.PatchTransactionID(domain.RRTypeMX, msg, 1), domain.ErrUnsupportedRecordType)
}

func TestInsert_CapacityEviction(t *testing.T) {
	s := newStore(t, 2)
	for i, name := range []string{"a.test", "b.test", "c.test"} {
		msg := decode(t, packet(t, uint16(i), name, []answer{{300, [4]byte{192, 0, 2, byte(i)}}}), epoch)
		require.NoError(t, s.Insert(domain.RRTypeA, name, msg))
	}
	assert.Equal(t, 2, s.Len(domain.RRTypeA))
	_, ok := s.Lookup(domain.RRTypeA, "a.test")
	assert.False(t, ok, "least recently used name is evicted")
	assert.Equal(t, uint64(1), s.Stats().Evicted)
}

func TestPatchTTL(t *testing.T) {
	s := newStore(t, 10)
	msg := decode(t, packet(t, 1, "x.test", []answer{{300, [4]byte{192, 0, 2, 1}}}), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", msg))

	require.NoError(t, s.PatchTTL(domain.RRTypeA, msg, epoch.Add(100*time.Second)))
	off := msg.Answers[0].TTLOffset
	assert.Equal(t, uint32(200), binary.BigEndian.Uint32(msg.Bytes()[off:]))

	require.NoError(t, s.PatchTTL(domain.RRTypeA, msg, epoch.Add(time.Hour)))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(msg.Bytes()[off:]), "clamped at zero")
}

func TestPatchTransactionID(t *testing.T) {
	s := newStore(t, 10)
	msg := decode(t, packet(t, 1, "x.test", nil), epoch)
	require.NoError(t, s.PatchTransactionID(domain.RRTypeA, msg, 0xBEEF))
	assert.Equal(t, uint16(0xBEEF), msg.ID)
	assert.Equal(t, uint16(0xBEEF), binary.BigEndian.Uint16(msg.Bytes()))
}

func TestReplay(t *testing.T) {
	s := newStore(t, 10)
	msg := decode(t, packet(t, 1, "x.test", []answer{{300, [4]byte{192, 0, 2, 1}}, {600, [4]byte{192, 0, 2, 2}}}), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", msg))

	first, ok := s.Replay(domain.RRTypeA, "x.test", 7, epoch.Add(10*time.Second))
	require.True(t, ok)
	second, ok := s.Replay(domain.RRTypeA, "x.test", 8, epoch.Add(70*time.Second))
	require.True(t, ok)

	off0, off1 := msg.Answers[0].TTLOffset, msg.Answers[1].TTLOffset
	assert.Equal(t, uint16(7), binary.BigEndian.Uint16(first))
	assert.Equal(t, uint16(8), binary.BigEndian.Uint16(second))
	assert.Equal(t, uint32(290), binary.BigEndian.Uint32(first[off0:]))
	assert.Equal(t, uint32(590), binary.BigEndian.Uint32(first[off1:]))
	assert.Equal(t, uint32(230), binary.BigEndian.Uint32(second[off0:]))
	assert.Equal(t, uint32(530), binary.BigEndian.Uint32(second[off1:]))

	first[0] = 0xFF
	assert.Equal(t, uint16(8), binary.BigEndian.Uint16(msg.Bytes()), "replayed bytes are a copy")

	_, ok = s.Replay(domain.RRTypeA, "y.test", 1, epoch)
	assert.False(t, ok)
}

func TestReplay_MatchesStepwisePatching(t *testing.T) {
	raw := packet(t, 1, "x.test", []answer{{300, [4]byte{192, 0, 2, 1}}}, "ns1.test")
	now := epoch.Add(42 * time.Second)

	stepwise := newStore(t, 10)
	require.NoError(t, stepwise.Insert(domain.RRTypeA, "x.test", decode(t, raw, epoch)))
	msg, ok := stepwise.Lookup(domain.RRTypeA, "x.test")
	require.True(t, ok)
	require.NoError(t, stepwise.PatchTTL(domain.RRTypeA, msg, now))
	require.NoError(t, stepwise.PatchTransactionID(domain.RRTypeA, msg, 0xBEEF))

	replayed := newStore(t, 10)
	require.NoError(t, replayed.Insert(domain.RRTypeA, "x.test", decode(t, raw, epoch)))
	out, ok := replayed.Replay(domain.RRTypeA, "x.test", 0xBEEF, now)
	require.True(t, ok)

	assert.Equal(t, msg.Wire(), out)
	assert.Equal(t, stepwise.Stats().Hits, replayed.Stats().Hits)
}

func TestSweep(t *testing.T) {
	s := newStore(t, 10)
	short := decode(t, packet(t, 1, "short.test", []answer{{10, [4]byte{192, 0, 2, 1}}}), epoch)
	long := decode(t, packet(t, 2, "long.test", []answer{{3600, [4]byte{192, 0, 2, 2}}}), epoch)
	empty := decode(t, packet(t, 3, "empty.test", nil, "ns1.test"), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "short.test", short))
	require.NoError(t, s.Insert(domain.RRTypeA, "long.test", long))
	require.NoError(t, s.Insert(domain.RRTypeNS, "empty.test", empty))

	assert.Equal(t, 0, s.Sweep(epoch.Add(9*time.Second)))
	assert.Equal(t, 1, s.Sweep(epoch.Add(10*time.Second)), "expiry at exactly now is removed")

	_, ok := s.Lookup(domain.RRTypeA, "short.test")
	assert.False(t, ok)
	_, ok = s.Lookup(domain.RRTypeA, "long.test")
	assert.True(t, ok)
	_, ok = s.Lookup(domain.RRTypeNS, "empty.test")
	assert.True(t, ok, "entries without answers never expire")

	assert.Equal(t, 0, s.Sweep(epoch.Add(10*time.Second)), "sweep is idempotent")
	assert.Equal(t, uint64(1), s.Stats().Swept)
}

func TestSweep_FirstAnswerDecides(t *testing.T) {
	s := newStore(t, 10)
	msg := decode(t, packet(t, 1, "x.test", []answer{{600, [4]byte{192, 0, 2, 1}}, {5, [4]byte{192, 0, 2, 2}}}), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", msg))
	assert.Equal(t, 0, s.Sweep(epoch.Add(time.Minute)))
	assert.Equal(t, 1, s.Sweep(epoch.Add(10*time.Minute)))
}

func TestFindGlue(t *testing.T) {
	s := newStore(t, 10)
	withNS := decode(t, packet(t, 1, "x.test", []answer{{300, [4]byte{192, 0, 2, 1}}}, "ns1.test", "ns2.test"), epoch)
	withoutNS := decode(t, packet(t, 2, "y.test", []answer{{300, [4]byte{192, 0, 2, 2}}}), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", withNS))
	require.NoError(t, s.Insert(domain.RRTypeA, "y.test", withoutNS))

	glue, ok := s.FindGlue([]string{"x.test"})
	require.True(t, ok)
	require.Len(t, glue, 2)
	assert.Equal(t, domain.NameServerData{Host: "ns1.test"}, glue[0].Data)
	assert.Equal(t, domain.NameServerData{Host: "ns2.test"}, glue[1].Data)

	_, ok = s.FindGlue([]string{"y.test"})
	assert.False(t, ok, "entry without name servers is not glue")
	_, ok = s.FindGlue([]string{"z.test"})
	assert.False(t, ok)
	_, ok = s.FindGlue(nil)
	assert.False(t, ok)
}

func TestFindGlue_AfterSweep(t *testing.T) {
	s := newStore(t, 10)
	msg := decode(t, packet(t, 1, "x.test", []answer{{10, [4]byte{192, 0, 2, 1}}}, "ns1.test"), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", msg))

	_, ok := s.FindGlue([]string{"x.test"})
	require.True(t, ok)

	require.Equal(t, 1, s.Sweep(epoch.Add(time.Minute)))
	_, ok = s.FindGlue([]string{"x.test"})
	assert.False(t, ok)
}

func TestSnapshot(t *testing.T) {
	s := newStore(t, 10)
	a := decode(t, packet(t, 1, "x.test", []answer{{300, [4]byte{192, 0, 2, 1}}}), epoch)
	ns := decode(t, packet(t, 2, "y.test", nil, "ns1.test"), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", a))
	require.NoError(t, s.Insert(domain.RRTypeNS, "y.test", ns))

	entries := s.Snapshot(epoch.Add(100 * time.Second))
	require.Len(t, entries, 2)
	assert.Equal(t, domain.RRTypeA, entries[0].Type)
	assert.Equal(t, "x.test", entries[0].Name)
	assert.Equal(t, uint32(200), binary.BigEndian.Uint32(entries[0].Data[a.Answers[0].TTLOffset:]))
	assert.Equal(t, domain.RRTypeNS, entries[1].Type)
	assert.Equal(t, "y.test", entries[1].Name)
}

func TestConcurrentReplayAndSweep(t *testing.T) {
	s := newStore(t, 100)
	msg := decode(t, packet(t, 1, "x.test", []answer{{3600, [4]byte{192, 0, 2, 1}}}, "ns1.test"), epoch)
	require.NoError(t, s.Insert(domain.RRTypeA, "x.test", msg))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				out, ok := s.Replay(domain.RRTypeA, "x.test", id, epoch.Add(time.Duration(j)*time.Second))
				if ok {
					assert.Equal(t, id, binary.BigEndian.Uint16(out))
				}
				s.FindGlue([]string{"x.test"})
			}
		}(uint16(i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			s.Sweep(epoch)
		}
	}()
	wg.Wait()
	_, ok := s.Lookup(domain.RRTypeA, "x.test")
	assert.True(t, ok)
}
