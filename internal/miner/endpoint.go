package miner

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint identifies one miner API server. Immutable once constructed;
// the port is always non-zero.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint parses a "host:port" specification into an Endpoint.
//
// IPv6 addresses must be bracketed ("[fe80::1]:4028"). A specification
// without a port fails: the cgminer API has no universal default that
// can be assumed safely for every dialect.
//
// Parameters:
//   - addr: Combined host and port, e.g. "10.0.0.5:4028"
//
// Returns:
//   - Endpoint: Parsed endpoint with validated, non-zero port
//   - error: Wrapping ErrInvalidEndpoint if the address cannot be used
func ParseEndpoint(addr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, addr, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: bad port: %w", ErrInvalidEndpoint, addr, err)
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: %q: port out of range", ErrInvalidEndpoint, addr)
	}

	return Endpoint{Host: host, Port: port}, nil
}

// NewEndpoint constructs an Endpoint from explicit host and port.
//
// Returns an error wrapping ErrInvalidEndpoint when the port is zero or
// out of range, so an Endpoint in use always carries a usable port.
func NewEndpoint(host string, port int) (Endpoint, error) {
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Addr returns the dialable "host:port" form, bracketing IPv6 hosts.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// network returns the TCP network family matching the host syntax,
// mirroring how the address family is chosen before dialing.
func (e Endpoint) network() string {
	if strings.Contains(e.Host, ":") {
		return "tcp6"
	}
	return "tcp4"
}

// String returns the endpoint in display form.
func (e Endpoint) String() string {
	return e.Addr()
}
