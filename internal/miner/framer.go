package miner

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Framing timeouts. The wire protocol has no length prefix and no
// reliable terminator, so "end of message" is inferred from the device
// going quiet.
const (
	// defaultFirstByteTimeout is how long to wait for the response to
	// start. An empty read after this is "no response", which the
	// executor treats as retryable.
	defaultFirstByteTimeout = 3 * time.Second

	// defaultInterReadTimeout is how long to wait for more bytes once
	// the response has started. The first quiet interval ends the
	// message.
	defaultInterReadTimeout = 500 * time.Millisecond

	// readChunkSize is the per-read buffer size.
	readChunkSize = 4096
)

// Framer reads one complete response message from a Transport.
//
// The end of a message is a heuristic: once bytes start arriving, the
// message is considered complete at the first InterReadTimeout interval
// with no new data. This is correct only as long as the device pauses
// longer than InterReadTimeout between messages, and cannot distinguish
// a genuinely slow-but-still-arriving response from a finished one.
// Both timeouts are configurable for devices with different pacing; the
// protocol itself offers nothing better than this.
type Framer struct {
	transport *Transport

	// FirstByteTimeout is the wait for the first bytes of a response.
	FirstByteTimeout time.Duration

	// InterReadTimeout is the quiet interval that ends a message.
	InterReadTimeout time.Duration
}

// NewFramer creates a Framer over the transport with default timeouts.
func NewFramer(transport *Transport) *Framer {
	return &Framer{
		transport:        transport,
		FirstByteTimeout: defaultFirstByteTimeout,
		InterReadTimeout: defaultInterReadTimeout,
	}
}

// ReadMessage reads a complete response from the transport.
//
// Returns:
//   - []byte: The message with a single trailing NUL stripped if
//     present; nil when no bytes arrived within FirstByteTimeout
//     ("no response", a retryable condition for the executor)
//   - error: Transport-level failures; a pure timeout is not an error
func (f *Framer) ReadMessage() ([]byte, error) {
	ready, err := f.transport.HasData(f.FirstByteTimeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for response: %w", err)
	}
	if !ready {
		return nil, nil
	}

	var msg []byte
	buf := make([]byte, readChunkSize)

	n, err := f.transport.read(buf)
	if n > 0 {
		msg = append(msg, buf[:n]...)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	eof := errors.Is(err, io.EOF)

	for !eof {
		ready, err := f.transport.HasData(f.InterReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("polling for more data: %w", err)
		}
		if !ready {
			break
		}

		n, err := f.transport.read(buf)
		if n > 0 {
			msg = append(msg, buf[:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		if n == 0 {
			// Readable with zero bytes means the peer closed.
			break
		}
	}

	// Some devices terminate the blob with a single NUL.
	if len(msg) > 0 && msg[len(msg)-1] == 0 {
		msg = msg[:len(msg)-1]
	}
	return msg, nil
}
