package transport

import (
	"fmt"

	"github.com/haukened/rr-cache/internal/dns/common/log"
)

// NewTransport creates a new transport instance based on the specified type.
func NewTransport(transportType TransportType, addr string, logger log.Logger) (ServerTransport, error) {
	if !IsTransportSupported(transportType) {
		if transportType == TransportTCP {
			return nil, fmt.Errorf("DNS over TCP transport not implemented")
		}
		return nil, fmt.Errorf("unsupported transport type: %s (supported: %v)", transportType, GetSupportedTransports())
	}
	return NewUDPTransport(addr, logger), nil
}

// GetSupportedTransports returns a list of currently supported transport types.
func GetSupportedTransports() []TransportType {
	return []TransportType{TransportUDP}
}

// IsTransportSupported checks if a given transport type is currently supported.
func IsTransportSupported(transportType TransportType) bool {
	for _, t := range GetSupportedTransports() {
		if t == transportType {
			return true
		}
	}
	return false
}
