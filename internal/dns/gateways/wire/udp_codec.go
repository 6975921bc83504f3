package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/haukened/rr-cache/internal/dns/common/log"
	"github.com/haukened/rr-cache/internal/dns/domain"
)

// synthesizedFlags marks answers built locally: response, authoritative,
// recursion available.
const synthesizedFlags = domain.FlagResponse | domain.FlagAuthoritative | domain.FlagRecursionAvailable

// udpCodec implements Codec for standard DNS over UDP messages.
type udpCodec struct {
	logger log.Logger
}

// NewUDPCodec creates a codec that reports lenient decoding through logger.
func NewUDPCodec(logger log.Logger) *udpCodec {
	return &udpCodec{
		logger: logger,
	}
}

// Decode parses the header, the question section, and the answer and
// authority sections. Additional records are left undecoded; they stay in the
// buffer and are replayed untouched. The message keeps its own copy of data.
func (c *udpCodec) Decode(data []byte, now time.Time) (*domain.Message, error) {
	if len(data) < domain.HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", domain.ErrMalformedPacket, len(data), domain.HeaderSize)
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	h := domain.Header{
		ID:      binary.BigEndian.Uint16(buf[domain.OffsetID:]),
		Flags:   binary.BigEndian.Uint16(buf[domain.OffsetFlags:]),
		QDCount: binary.BigEndian.Uint16(buf[domain.OffsetQDCount:]),
		ANCount: binary.BigEndian.Uint16(buf[domain.OffsetANCount:]),
		NSCount: binary.BigEndian.Uint16(buf[domain.OffsetNSCount:]),
		ARCount: binary.BigEndian.Uint16(buf[domain.OffsetARCount:]),
	}

	offset := domain.HeaderSize
	questions := make([]domain.Question, 0, min(int(h.QDCount), 16))
	for i := 0; i < int(h.QDCount); i++ {
		q, next, err := decodeQuestion(buf, offset)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		questions = append(questions, q)
		offset = next
	}

	answers, offset, err := c.decodeSection(buf, offset, h.ANCount, now)
	if err != nil {
		return nil, fmt.Errorf("answer section: %w", err)
	}
	authority, _, err := c.decodeSection(buf, offset, h.NSCount, now)
	if err != nil {
		return nil, fmt.Errorf("authority section: %w", err)
	}

	return domain.NewMessage(h, questions, answers, authority, buf), nil
}

func (c *udpCodec) decodeSection(data []byte, offset int, count uint16, now time.Time) ([]domain.ResourceRecord, int, error) {
	var records []domain.ResourceRecord
	for i := 0; i < int(count); i++ {
		rr, next, err := c.decodeRecord(data, offset, now)
		if err != nil {
			return nil, 0, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, rr)
		offset = next
	}
	return records, offset, nil
}

func decodeQuestion(data []byte, offset int) (domain.Question, int, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return domain.Question{}, 0, err
	}
	if offset+4 > len(data) {
		return domain.Question{}, 0, fmt.Errorf("%w: truncated question %q", domain.ErrMalformedPacket, name)
	}
	return domain.Question{
		Name:  name,
		Type:  domain.RRType(binary.BigEndian.Uint16(data[offset:])),
		Class: domain.RRClass(binary.BigEndian.Uint16(data[offset+2:])),
	}, offset + 4, nil
}

// decodeRecord reads one resource record. The cursor always advances by the
// declared data length, whatever the payload decoder consumed.
func (c *udpCodec) decodeRecord(data []byte, offset int, now time.Time) (domain.ResourceRecord, int, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return domain.ResourceRecord{}, 0, err
	}
	if offset+10 > len(data) {
		return domain.ResourceRecord{}, 0, fmt.Errorf("%w: truncated record %q", domain.ErrMalformedPacket, name)
	}

	rrtype := domain.RRType(binary.BigEndian.Uint16(data[offset:]))
	class := domain.RRClass(binary.BigEndian.Uint16(data[offset+2:]))
	ttlOffset := offset + 4
	ttl := binary.BigEndian.Uint32(data[ttlOffset:])
	rdLen := binary.BigEndian.Uint16(data[offset+8:])
	rdStart := offset + 10
	rdEnd := rdStart + int(rdLen)
	if rdEnd > len(data) {
		return domain.ResourceRecord{}, 0, fmt.Errorf("%w: rdata of %q overruns buffer", domain.ErrMalformedPacket, name)
	}

	var rdata domain.RecordData
	switch rrtype {
	case domain.RRTypeA:
		if rdLen < 4 {
			return domain.ResourceRecord{}, 0, fmt.Errorf("%w: A record %q with %d byte address", domain.ErrMalformedPacket, name, rdLen)
		}
		rdata = domain.AddressData{IP: netip.AddrFrom4([4]byte(data[rdStart : rdStart+4]))}
	case domain.RRTypeNS:
		host, hostEnd, err := decodeName(data, rdStart)
		if err != nil {
			return domain.ResourceRecord{}, 0, fmt.Errorf("name server of %q: %w", name, err)
		}
		if hostEnd > rdEnd {
			return domain.ResourceRecord{}, 0, fmt.Errorf("%w: name server of %q overruns its %d byte rdata", domain.ErrMalformedPacket, name, rdLen)
		}
		rdata = domain.NameServerData{Host: host}
	default:
		c.logger.Warn(map[string]any{
			"name":  name,
			"type":  rrtype.String(),
			"error": fmt.Errorf("%w: %s", domain.ErrUnsupportedRecordType, rrtype),
		}, "Decoding unsupported record as address")
		rdata = lenientAddress(data[rdStart:rdEnd])
	}

	rr := domain.NewResourceRecord(name, rrtype, class, ttl, rdata, now)
	rr.DataLength = rdLen
	rr.TTLOffset = ttlOffset
	return rr, rdEnd, nil
}

// lenientAddress reads up to the first four payload bytes as an IPv4 address.
func lenientAddress(rdata []byte) domain.AddressData {
	var ip [4]byte
	copy(ip[:], rdata)
	return domain.AddressData{IP: netip.AddrFrom4(ip)}
}

// EncodeAnswer builds a fresh response buffer. Names share suffixes through
// compression across the question and authority sections, and NS data
// lengths are computed from the bytes actually written.
func (c *udpCodec) EncodeAnswer(id uint16, questions []domain.Question, authority []domain.ResourceRecord, now time.Time) (*domain.Message, error) {
	if len(questions) > 0xFFFF || len(authority) > 0xFFFF {
		return nil, errors.New("too many entries for a single message")
	}

	h := domain.Header{
		ID:      id,
		Flags:   synthesizedFlags,
		QDCount: uint16(len(questions)),
		NSCount: uint16(len(authority)),
	}
	buf := make([]byte, domain.HeaderSize, 512)
	binary.BigEndian.PutUint16(buf[domain.OffsetID:], h.ID)
	binary.BigEndian.PutUint16(buf[domain.OffsetFlags:], h.Flags)
	binary.BigEndian.PutUint16(buf[domain.OffsetQDCount:], h.QDCount)
	binary.BigEndian.PutUint16(buf[domain.OffsetNSCount:], h.NSCount)

	comp := newCompressor()
	var err error
	for _, q := range questions {
		if buf, err = comp.appendName(buf, q.Name); err != nil {
			return nil, fmt.Errorf("question %q: %w", q.Name, err)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(q.Type))
		buf = binary.BigEndian.AppendUint16(buf, uint16(q.Class))
	}

	records := make([]domain.ResourceRecord, 0, len(authority))
	for _, rr := range authority {
		if buf, err = comp.appendName(buf, rr.Name); err != nil {
			return nil, fmt.Errorf("authority %q: %w", rr.Name, err)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(rr.Type))
		buf = binary.BigEndian.AppendUint16(buf, uint16(rr.Class))

		out := rr
		out.TTL = rr.RemainingTTL(now)
		out.TTLOffset = len(buf)
		buf = binary.BigEndian.AppendUint32(buf, out.TTL)

		lenOffset := len(buf)
		buf = append(buf, 0, 0)
		switch d := rr.Data.(type) {
		case domain.NameServerData:
			if buf, err = comp.appendName(buf, d.Host); err != nil {
				return nil, fmt.Errorf("name server %q: %w", d.Host, err)
			}
		case domain.AddressData:
			var ip [4]byte
			if d.IP.Is4() {
				ip = d.IP.As4()
			}
			buf = append(buf, ip[:]...)
		default:
			return nil, fmt.Errorf("authority %q: unsupported record data %T", rr.Name, rr.Data)
		}
		rdLen := len(buf) - lenOffset - 2
		binary.BigEndian.PutUint16(buf[lenOffset:], uint16(rdLen))
		out.DataLength = uint16(rdLen)
		records = append(records, out)
	}

	c.logger.Debug(map[string]any{
		"id":        id,
		"questions": len(questions),
		"authority": len(records),
		"size":      len(buf),
	}, "Synthesized authoritative answer")

	qs := make([]domain.Question, len(questions))
	copy(qs, questions)
	return domain.NewMessage(h, qs, nil, records, buf), nil
}

var _ Codec = (*udpCodec)(nil)
