package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/haukened/rr-cache/internal/dns/common/log"
)

// maxDatagramSize bounds a single inbound datagram.
const maxDatagramSize = 4096

// UDPTransport implements ServerTransport for standard DNS over UDP (RFC 1035).
// Datagrams are handled one at a time in arrival order: the receive loop
// calls the handler synchronously, so a slow upstream exchange delays the
// next datagram.
type UDPTransport struct {
	addr   string
	conn   *net.UDPConn
	logger log.Logger

	// Synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewUDPTransport creates a new UDP transport instance.
func NewUDPTransport(addr string, logger log.Logger) *UDPTransport {
	return &UDPTransport{
		addr:   addr,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start binds the UDP socket and starts the receive loop.
func (t *UDPTransport) Start(ctx context.Context, handler PacketHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("UDP transport already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   conn.LocalAddr().String(),
	}, "DNS transport started")

	go t.listenLoop(ctx, handler)

	return nil
}

// Stop closes the socket and waits for an in-flight datagram to finish.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}

	close(t.stopCh)
	t.running = false

	var closeErr error
	if t.conn != nil {
		closeErr = t.conn.Close()
		if closeErr != nil {
			t.logger.Warn(map[string]any{
				"error": closeErr,
			}, "Error closing UDP connection")
		}
	}
	t.mu.Unlock()

	<-t.doneCh

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   t.addr,
	}, "DNS transport stopped")

	return closeErr
}

// Address returns the network address the transport was configured with.
func (t *UDPTransport) Address() string {
	return t.addr
}

// LocalAddr returns the bound socket address, or nil before Start.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *UDPTransport) isRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// listenLoop reads datagrams until the socket is closed or ctx ends.
func (t *UDPTransport) listenLoop(ctx context.Context, handler PacketHandler) {
	defer close(t.doneCh)
	buffer := make([]byte, maxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug(nil, "UDP transport stopping due to context cancellation")
			return
		case <-t.stopCh:
			t.logger.Debug(nil, "UDP transport stopping due to stop signal")
			return
		default:
		}

		n, clientAddr, err := t.conn.ReadFromUDP(buffer)
		if err != nil {
			if !t.isRunning() {
				return
			}
			t.logger.Warn(map[string]any{
				"error": err,
			}, "Failed to read UDP packet")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])
		t.handlePacket(ctx, packet, clientAddr, handler)
	}
}

// handlePacket processes a single datagram and writes back any reply.
func (t *UDPTransport) handlePacket(ctx context.Context, data []byte, clientAddr *net.UDPAddr, handler PacketHandler) {
	t.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"size":   len(data),
	}, "Received DNS datagram")

	reply, ok := handler.HandlePacket(ctx, data, clientAddr)
	if !ok {
		return
	}

	if _, err := t.conn.WriteToUDP(reply, clientAddr); err != nil {
		t.logger.Error(map[string]any{
			"client": clientAddr.String(),
			"error":  err,
		}, "Failed to send DNS response")
		return
	}

	t.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"size":   len(reply),
	}, "Sent DNS response")
}

var _ ServerTransport = (*UDPTransport)(nil)
