package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrUpstreamUnavailable wraps every failure to obtain a reply from the
// upstream resolver: dial, write, read, timeout or a mismatched reply id.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

const (
	defaultTimeout = 2 * time.Second
	maxPacketSize  = 4096
)

// Error message constants for consistent error handling
const (
	errNoServerProvided = "no upstream DNS server provided"
	errShortQuery       = "query shorter than a DNS header"
	errFailedToConnect  = "failed to connect: %w"
	errWriteFailed      = "write failed: %w"
	errReadFailed       = "read failed: %w"
	errIDMismatch       = "reply id %d does not match query id %d"
)

// DialFunc defines a function type for establishing a network connection.
// It takes a context for cancellation, the network type (e.g., "tcp", "udp"),
// and the address to connect to, returning a net.Conn and an error if any occurs.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Forwarder.
type Options struct {
	// required parameters
	Server  string
	Timeout time.Duration
	// options to inject for testing purposes
	Dial DialFunc
}

// Forwarder relays raw query bytes to a single upstream resolver over UDP
// and returns the raw reply.
type Forwarder struct {
	server  string        // upstream endpoint, e.g. "8.8.8.8:53"
	timeout time.Duration // receive timeout for one exchange
	dial    DialFunc
}

// NewForwarder creates a forwarder for opts.Server. The timeout defaults to
// two seconds and the dialer to net.Dialer.
func NewForwarder(opts Options) (*Forwarder, error) {
	if opts.Server == "" {
		return nil, errors.New(errNoServerProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Forwarder{
		server:  opts.Server,
		timeout: opts.Timeout,
		dial:    opts.Dial,
	}, nil
}

// Server returns the upstream endpoint.
func (f *Forwarder) Server() string { return f.server }

// ensureContextDeadline ensures the context has a deadline no later than the
// forwarder's timeout from now.
func (f *Forwarder) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if d, ok := ctx.Deadline(); ok && time.Until(d) <= f.timeout {
		return ctx, nil
	}
	return context.WithTimeout(ctx, f.timeout)
}

// Exchange sends query unmodified and waits for one reply. The reply must
// carry the same transaction id as the query. Any failure is wrapped with
// ErrUpstreamUnavailable; no retry is attempted.
func (f *Forwarder) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	if len(query) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, errShortQuery)
	}
	ctx, cancel := f.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}

	conn, err := f.dial(ctx, "udp", f.server)
	if err != nil {
		return nil, fmt.Errorf("%w: "+errFailedToConnect, ErrUpstreamUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(query); err != nil {
		return nil, fmt.Errorf("%w: "+errWriteFailed, ErrUpstreamUnavailable, err)
	}

	buf := make([]byte, maxPacketSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: "+errReadFailed, ErrUpstreamUnavailable, err)
	}
	reply := buf[:n]
	if n < 2 {
		return nil, fmt.Errorf("%w: "+errReadFailed, ErrUpstreamUnavailable, errors.New("short reply"))
	}
	if got, want := uint16(reply[0])<<8|uint16(reply[1]), uint16(query[0])<<8|uint16(query[1]); got != want {
		return nil, fmt.Errorf("%w: "+errIDMismatch, ErrUpstreamUnavailable, got, want)
	}
	return reply, nil
}
