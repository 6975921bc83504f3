// Package transport provides the inbound network listener. It owns the socket
// and hands raw datagrams to a PacketHandler, writing back whatever bytes the
// handler returns.
package transport

import (
	"context"
	"net"
)

// ServerTransport defines the interface for DNS server transport implementations.
type ServerTransport interface {
	// Start binds the socket and begins delivering datagrams to handler.
	Start(ctx context.Context, handler PacketHandler) error

	// Stop closes the socket and waits for the receive loop to exit.
	Stop() error

	// Address returns the configured listen address.
	Address() string

	// LocalAddr returns the bound socket address, or nil before Start.
	LocalAddr() net.Addr
}

// PacketHandler processes one inbound datagram. It returns the reply bytes
// and true, or false when nothing should be sent back.
type PacketHandler interface {
	HandlePacket(ctx context.Context, data []byte, client net.Addr) ([]byte, bool)
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(ctx context.Context, data []byte, client net.Addr) ([]byte, bool)

func (f PacketHandlerFunc) HandlePacket(ctx context.Context, data []byte, client net.Addr) ([]byte, bool) {
	return f(ctx, data, client)
}

// TransportType represents the different types of DNS transport protocols supported.
type TransportType string

const (
	// TransportUDP represents standard DNS over UDP (RFC 1035)
	TransportUDP TransportType = "udp"

	// TransportTCP represents DNS over TCP, which is not served.
	TransportTCP TransportType = "tcp"
)
