package miner

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"
)

// Default timeouts for transport operations.
const (
	// defaultConnectTimeout is the maximum time to wait for the TCP
	// connection to be established.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single request write. Requests are a
	// single JSON line, so this is generous.
	defaultWriteTimeout = 5 * time.Second
)

// Transport owns a single TCP socket to one miner API endpoint.
//
// The cgminer protocol family answers exactly one command (or one merged
// command set) per connection, so a Transport cycles through open, one
// request/response exchange, close. All methods are safe for concurrent
// use, although the protocol gives no reason to share one Transport
// between goroutines.
type Transport struct {
	endpoint       Endpoint
	connectTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTransport creates a Transport bound to the given endpoint.
// A zero connectTimeout selects the default.
func NewTransport(endpoint Endpoint, connectTimeout time.Duration) *Transport {
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &Transport{
		endpoint:       endpoint,
		connectTimeout: connectTimeout,
	}
}

// Endpoint returns the endpoint this transport is bound to.
func (t *Transport) Endpoint() Endpoint {
	return t.endpoint
}

// Open establishes the TCP connection, choosing the IPv4 or IPv6 family
// from the host syntax. Any previously open connection is closed first;
// a redundant close is harmless.
//
// Parameters:
//   - ctx: Context for cancellation of the dial
//
// Returns:
//   - error: Wrapping ErrConnectionFailed if the endpoint is
//     unreachable or refuses the connection
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, t.endpoint.network(), t.endpoint.Addr())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, t.endpoint.Addr(), err)
	}

	t.conn = conn
	return nil
}

// Close releases the connection if present. Idempotent: closing an
// already-closed Transport is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// IsConnected reports whether the socket is open and write-ready.
//
// True only when the descriptor is valid and a zero-timeout poll reports
// the socket as writable. Any probe failure is treated as "not
// connected" rather than propagated: the executor's answer to a dubious
// socket is always a clean reopen.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return false
	}

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	writable, exceptional, err := pollConn(sc, false, 0)
	if err != nil || exceptional {
		return false
	}
	return writable
}

// HasData polls the socket for readable data.
//
// Parameters:
//   - timeout: Maximum time to wait; zero polls without blocking
//
// Returns:
//   - bool: True if data is pending, false on a pure timeout
//   - error: ErrNotConnected when closed, ErrSocketException on an
//     exceptional socket condition (a protocol violation in practice)
func (t *Transport) HasData(timeout time.Duration) (bool, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return false, ErrNotConnected
	}

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false, fmt.Errorf("%w: connection does not expose a descriptor", ErrNotConnected)
	}

	readable, exceptional, err := pollConn(sc, true, timeout)
	if err != nil {
		return false, fmt.Errorf("miner: readiness poll: %w", err)
	}
	if exceptional {
		return false, ErrSocketException
	}
	return readable, nil
}

// Write sends the whole buffer to the socket.
//
// net.Conn.Write already loops until the full buffer is sent or an
// error occurs, so callers never see a partial-write count.
func (t *Transport) Write(b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("miner: set write deadline: %w", err)
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}
	return nil
}

// read fills buf with whatever bytes are currently available. Callers
// must have confirmed readiness via HasData first; a short deadline is
// still set so a racing peer cannot stall the framer.
func (t *Transport) read(buf []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return 0, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		return 0, fmt.Errorf("miner: set read deadline: %w", err)
	}
	return conn.Read(buf)
}

// pollConn runs a select(2) readiness poll on the connection's file
// descriptor, mirroring the semantics the protocol client needs:
// readiness of one set (read or write) plus exceptional conditions.
func pollConn(sc syscall.Conn, wantRead bool, timeout time.Duration) (ready, exceptional bool, err error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return false, false, err
	}

	var pollErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		ready, exceptional, pollErr = selectFd(int(fd), wantRead, timeout)
	})
	if ctrlErr != nil {
		return false, false, ctrlErr
	}
	return ready, exceptional, pollErr
}

// selectFd performs one select(2) call on fd. When wantRead is false
// the fd is polled for writability instead. The exceptional set is
// always watched.
func selectFd(fd int, wantRead bool, timeout time.Duration) (ready, exceptional bool, err error) {
	for {
		var rset, wset, eset syscall.FdSet
		target := &wset
		if wantRead {
			target = &rset
		}
		fdSet(fd, target)
		fdSet(fd, &eset)

		tv := syscall.NsecToTimeval(timeout.Nanoseconds())
		n, err := syscall.Select(fd+1, &rset, &wset, &eset, &tv)
		if err == syscall.EINTR {
			// Interrupted; the sets and timeout are undefined now,
			// so rebuild and poll again.
			continue
		}
		if err != nil {
			return false, false, err
		}
		if n == 0 {
			return false, false, nil
		}
		return fdIsSet(fd, target), fdIsSet(fd, &eset), nil
	}
}

// fdSet marks fd in the set.
func fdSet(fd int, set *syscall.FdSet) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

// fdIsSet reports whether fd is marked in the set.
func fdIsSet(fd int, set *syscall.FdSet) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
