package domain

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Message is a parsed DNS packet together with the buffer it was decoded
// from. The message owns that buffer exclusively: records only carry values
// interpreted from it plus the offsets needed to patch it later.
//
// Message is not safe for concurrent mutation; the record store serializes
// access to cached messages.
type Message struct {
	Header
	Questions []Question
	Answers   []ResourceRecord
	Authority []ResourceRecord

	data []byte
}

// NewMessage wraps an already decoded header and sections around data.
// The caller hands over ownership of data.
func NewMessage(h Header, questions []Question, answers, authority []ResourceRecord, data []byte) *Message {
	return &Message{
		Header:    h,
		Questions: questions,
		Answers:   answers,
		Authority: authority,
		data:      data,
	}
}

// Bytes returns the owned wire buffer. Callers must not retain or modify it;
// use Wire for a copy that is safe to hand to a socket.
func (m *Message) Bytes() []byte {
	return m.data
}

// Wire returns a copy of the current wire buffer.
func (m *Message) Wire() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// RefreshTTLs rewrites the TTL field of every buffer-backed record so that it
// equals the time remaining until that record's absolute expiration. The
// buffer is patched in place, so repeated refreshes age the TTL down.
func (m *Message) RefreshTTLs(now time.Time) {
	for _, section := range [][]ResourceRecord{m.Answers, m.Authority} {
		for _, rr := range section {
			if rr.TTLOffset < 0 || rr.TTLOffset+4 > len(m.data) {
				continue
			}
			binary.BigEndian.PutUint32(m.data[rr.TTLOffset:], rr.RemainingTTL(now))
		}
	}
}

// SetTransactionID overwrites the id both in the buffer and in the header.
func (m *Message) SetTransactionID(id uint16) {
	m.ID = id
	if len(m.data) >= OffsetID+2 {
		binary.BigEndian.PutUint16(m.data[OffsetID:], id)
	}
}

// IsExpired reports whether the first answer has expired. Messages without
// answers never expire by this check.
func (m *Message) IsExpired(now time.Time) bool {
	if len(m.Answers) == 0 {
		return false
	}
	return m.Answers[0].IsExpired(now)
}

// QuestionNames returns the names of all questions in order.
func (m *Message) QuestionNames() []string {
	names := make([]string, 0, len(m.Questions))
	for _, q := range m.Questions {
		names = append(names, q.Name)
	}
	return names
}

// NameServers returns the authority records that carry a non-empty
// name-server host.
func (m *Message) NameServers() []ResourceRecord {
	var out []ResourceRecord
	for _, rr := range m.Authority {
		if ns, ok := rr.Data.(NameServerData); ok && ns.Host != "" {
			out = append(out, rr)
		}
	}
	return out
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id=%d", m.ID)
	if len(m.Questions) > 0 {
		qs := make([]string, 0, len(m.Questions))
		for _, q := range m.Questions {
			qs = append(qs, q.String())
		}
		fmt.Fprintf(&b, " questions=[%s]", strings.Join(qs, "; "))
	}
	writeRecords(&b, "answers", m.Answers)
	writeRecords(&b, "authority", m.Authority)
	return b.String()
}

func writeRecords(b *strings.Builder, label string, rrs []ResourceRecord) {
	if len(rrs) == 0 {
		return
	}
	parts := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		parts = append(parts, rr.String())
	}
	fmt.Fprintf(b, " %s=[%s]", label, strings.Join(parts, "; "))
}
