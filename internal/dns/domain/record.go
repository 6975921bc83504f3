package domain

import (
	"fmt"
	"net/netip"
	"time"
)

// RecordData is the decoded payload of a resource record. It is a closed set:
// AddressData or NameServerData.
type RecordData interface {
	fmt.Stringer
	recordData()
}

// AddressData carries an IPv4 address. Records of unsupported types are
// also decoded into this variant on a best-effort basis.
type AddressData struct {
	IP netip.Addr
}

// NameServerData carries the host name of an authoritative server.
type NameServerData struct {
	Host string
}

func (AddressData) recordData()    {}
func (NameServerData) recordData() {}

func (d AddressData) String() string    { return d.IP.String() }
func (d NameServerData) String() string { return d.Host }

// ResourceRecord is an answer or authority entry.
//
// ExpiresAt is fixed when the record enters the process and is the only source
// of truth for expiry; the wire TTL is derived from it whenever the record is
// transmitted.
type ResourceRecord struct {
	Name       string
	Type       RRType
	Class      RRClass
	TTL        uint32 // as declared on the wire when received
	ExpiresAt  time.Time
	DataLength uint16
	Data       RecordData

	// TTLOffset is the position of the 4-byte TTL field inside the owning
	// message buffer, or -1 for records that are not backed by one.
	TTLOffset int
}

// NewResourceRecord builds a record received at now, computing its absolute
// expiration from ttl.
func NewResourceRecord(name string, rrtype RRType, class RRClass, ttl uint32, data RecordData, now time.Time) ResourceRecord {
	return ResourceRecord{
		Name:      name,
		Type:      rrtype,
		Class:     class,
		TTL:       ttl,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Second),
		Data:      data,
		TTLOffset: -1,
	}
}

// Remaining returns the time left until expiry, clamped at zero.
func (rr ResourceRecord) Remaining(now time.Time) time.Duration {
	d := rr.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RemainingTTL returns the whole seconds left until expiry, never negative.
func (rr ResourceRecord) RemainingTTL(now time.Time) uint32 {
	secs := rr.Remaining(now) / time.Second
	if secs > time.Duration(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(secs)
}

// IsExpired reports whether expiry is at or before now.
func (rr ResourceRecord) IsExpired(now time.Time) bool {
	return !rr.ExpiresAt.After(now)
}

func (rr ResourceRecord) String() string {
	return fmt.Sprintf("%s %s %s ttl=%d %s", rr.Name, rr.Class, rr.Type, rr.TTL, rr.Data)
}
