package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/minerwatch/minerwatch-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// Client batches InfluxDB line protocol and POSTs it to a
// VictoriaMetrics /write endpoint.
//
// The poller calls the Write* helpers once per miner per cycle, so a
// handful of lines arrive every few seconds. Lines accumulate in a
// buffer and go out in one request when the batch fills or the flush
// interval fires; a fleet poll never costs more than one HTTP round
// trip per interval.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	url        string
	httpClient *http.Client

	mu        sync.RWMutex
	connected bool
	onError   func(err error)

	// Pending lines, newline-separated. pending counts them so a
	// full batch can flush before the timer fires.
	batchMu   sync.Mutex
	buf       bytes.Buffer
	pending   int
	batchSize int

	flushTick *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup
}

// Connect verifies the VictoriaMetrics endpoint answers /health and
// starts the background flush loop.
//
// Returns ErrDisabled when the tsdb section of config.yaml is off, so
// the caller can treat "not configured" differently from "down".
func Connect(ctx context.Context, cfg config.TSDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 1
	}

	c := &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: defaultWriteTimeout},
		batchSize:  batchSize,
		flushTick:  time.NewTicker(time.Duration(flushInterval) * time.Second),
		done:       make(chan struct{}),
		connected:  true,
	}

	healthCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := c.HealthCheck(healthCtx); err != nil {
		c.connected = false
		return nil, fmt.Errorf("%w: health check failed: %w", ErrConnectionFailed, err)
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c, nil
}

func (c *Client) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.flushTick.C:
			c.Flush()
		case <-c.done:
			return
		}
	}
}

// Close stops the flush loop and ships whatever is still buffered.
// Always returns nil; a failed final flush goes to the error callback
// like any other.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.flushTick.Stop()
	close(c.done)
	c.wg.Wait()

	c.Flush()
	return nil
}

// HealthCheck performs a GET /health round trip.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) // drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tsdb health check: status %d", resp.StatusCode)
	}
	return nil
}

// IsConnected reports the last known state. HealthCheck does an
// active round trip; this does not.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers a callback for asynchronous write failures.
// Writes are batched, so errors surface here rather than from the
// Write* helpers.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// addLine buffers one line of line protocol, flushing when the batch
// fills. Dropped silently once the client is closed.
func (c *Client) addLine(line string) {
	if !c.IsConnected() {
		return
	}

	c.batchMu.Lock()
	if c.pending > 0 {
		c.buf.WriteByte('\n')
	}
	c.buf.WriteString(line)
	c.pending++
	full := c.pending >= c.batchSize
	c.batchMu.Unlock()

	if full {
		c.Flush()
	}
}

// Flush POSTs the buffered lines to /write. The flush loop calls this
// on its interval; Close calls it for the final drain. Safe to call
// concurrently, the buffer is swapped out under lock.
func (c *Client) Flush() {
	c.batchMu.Lock()
	if c.pending == 0 {
		c.batchMu.Unlock()
		return
	}
	body := make([]byte, c.buf.Len())
	copy(body, c.buf.Bytes())
	c.buf.Reset()
	c.pending = 0
	c.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", bytes.NewReader(body))
	if err != nil {
		c.reportError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.reportError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) // drain for connection reuse

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		c.reportError(fmt.Errorf("%w: HTTP %d", ErrWriteFailed, resp.StatusCode))
	}
}

func (c *Client) reportError(err error) {
	c.mu.RLock()
	callback := c.onError
	c.mu.RUnlock()

	if callback != nil {
		callback(err)
	}
}
