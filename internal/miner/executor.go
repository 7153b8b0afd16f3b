package miner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Default retry parameters, matching the behaviour the cgminer family
// needs in practice: short pauses for busy devices, long pauses for
// disconnected ones, linear growth capped well below the deadline.
const (
	defaultMaxRetryDuration = 300 * time.Second
	defaultBackoffShort     = 1 * time.Second
	defaultBackoffLong      = 10 * time.Second
	defaultMaxDelay         = 60 * time.Second
)

// Dialect identifies a device's protocol variant.
type Dialect int

const (
	// DialectUnknown is the zero value; callers fall back to generic
	// (classic cgminer) handling.
	DialectUnknown Dialect = iota

	// DialectCGMiner is the classic cgminer API.
	DialectCGMiner

	// DialectBOSminer is the Braiins OS variant: classic envelope with
	// extra response codes (temperature and fan blocks).
	DialectBOSminer

	// DialectKawPow is the kawpowminer JSON-RPC-like variant.
	DialectKawPow
)

// String returns the lowercase dialect name.
func (d Dialect) String() string {
	switch d {
	case DialectCGMiner:
		return "cgminer"
	case DialectBOSminer:
		return "bosminer"
	case DialectKawPow:
		return "kawpow"
	default:
		return "unknown"
	}
}

// ParseDialect maps a configuration string to a Dialect. Unrecognized
// values produce an error rather than a silent fallback.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "cgminer", "":
		return DialectCGMiner, nil
	case "bosminer":
		return DialectBOSminer, nil
	case "kawpow":
		return DialectKawPow, nil
	case "unknown":
		return DialectUnknown, nil
	default:
		return DialectUnknown, fmt.Errorf("miner: unknown dialect %q", s)
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// RetryConfig bounds the executor's retry loop.
type RetryConfig struct {
	// MaxRetryDuration is the total time budget measured from entry
	// into Execute. Default: 300s.
	MaxRetryDuration time.Duration

	// BackoffShort is the base delay for RetryShort errors. Default: 1s.
	BackoffShort time.Duration

	// BackoffLong is the base delay for RetryLong errors. Default: 10s.
	BackoffLong time.Duration

	// MaxDelay caps a single backoff sleep. Default: 60s.
	MaxDelay time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxRetryDuration == 0 {
		r.MaxRetryDuration = defaultMaxRetryDuration
	}
	if r.BackoffShort == 0 {
		r.BackoffShort = defaultBackoffShort
	}
	if r.BackoffLong == 0 {
		r.BackoffLong = defaultBackoffLong
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = defaultMaxDelay
	}
	return r
}

// Config holds client configuration for one miner endpoint.
type Config struct {
	// Endpoint is the miner API address. Required.
	Endpoint Endpoint

	// Dialect selects the encoder and classifier variant.
	// DialectUnknown behaves as classic cgminer.
	Dialect Dialect

	// ConnectTimeout bounds the TCP dial. Default: 10s.
	ConnectTimeout time.Duration

	// FirstByteTimeout is the framer's wait for a response to start.
	// Default: 3s.
	FirstByteTimeout time.Duration

	// InterReadTimeout is the framer's quiet interval that ends a
	// message. Default: 500ms.
	InterReadTimeout time.Duration

	// Retry bounds the retry loop.
	Retry RetryConfig
}

// Client executes commands against one miner API endpoint.
//
// Per call it runs the full protocol cycle: open, encode, send, read,
// classify, and on a retryable failure back off, reopen and resend
// until the retry budget is spent. The device answers one command (or
// one merged command set) per TCP connection, so the connection is
// closed after every successful exchange.
//
// A Client owns its Transport exclusively; no internal concurrency is
// used and no state outlives a single Execute call except the socket
// itself. Callers may run independent Clients against different
// endpoints in parallel.
type Client struct {
	cfg        Config
	transport  *Transport
	framer     *Framer
	encoder    Encoder
	classifier *Classifier

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates a Client for the endpoint in cfg, applying defaults
// for any zero timeout or retry field.
func NewClient(cfg Config) *Client {
	cfg.Retry = cfg.Retry.withDefaults()

	transport := NewTransport(cfg.Endpoint, cfg.ConnectTimeout)
	framer := NewFramer(transport)
	if cfg.FirstByteTimeout > 0 {
		framer.FirstByteTimeout = cfg.FirstByteTimeout
	}
	if cfg.InterReadTimeout > 0 {
		framer.InterReadTimeout = cfg.InterReadTimeout
	}

	var encoder Encoder = ClassicEncoder{}
	if cfg.Dialect == DialectKawPow {
		encoder = KawPowEncoder{}
	}

	classifier := NewClassifier()
	if cfg.Dialect == DialectBOSminer {
		classifier = NewBOSminerClassifier()
	}

	return &Client{
		cfg:        cfg,
		transport:  transport,
		framer:     framer,
		encoder:    encoder,
		classifier: classifier,
	}
}

// Endpoint returns the endpoint this client talks to.
func (c *Client) Endpoint() Endpoint {
	return c.cfg.Endpoint
}

// Dialect returns the configured protocol dialect.
func (c *Client) Dialect() Dialect {
	return c.cfg.Dialect
}

// SetLogger sets an optional logger for retry and warning reporting.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Close releases the client's connection if one is open. Idempotent.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Execute runs a single-token command with the full retry loop.
//
// Parameters:
//   - ctx: Context for cancellation; a cancel during backoff closes
//     the connection before returning
//   - command: Command token, e.g. "summary"
//   - param: Optional parameter (string or structured value), nil to omit
//
// Returns:
//   - Result: The classified payload
//   - error: A *MinerError on classification failure or retry
//     exhaustion; connection errors wrap ErrConnectionFailed
func (c *Client) Execute(ctx context.Context, command string, param any) (Result, error) {
	results, err := c.run(ctx, Cmd(command), param)
	if err != nil {
		return Result{}, err
	}
	return results[command], nil
}

// ExecuteCombined runs a merged command ("a+b" style) with the full
// retry loop. The result mapping contains every requested token; a
// partial answer from a loaded device is retried, not returned.
func (c *Client) ExecuteCombined(ctx context.Context, tokens []string, param any) (map[string]Result, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("miner: combined command needs at least one token")
	}
	return c.run(ctx, Combined(tokens...), param)
}

// run is the retry loop shared by Execute and ExecuteCombined.
func (c *Client) run(ctx context.Context, cmd Command, param any) (map[string]Result, error) {
	retry := c.cfg.Retry
	start := time.Now()
	attempt := 0

	for {
		// One answer per connection: anything left over from a failed
		// attempt is stale, so reopen unless the socket is write-ready.
		if !c.transport.IsConnected() {
			c.transport.Close()
			if err := c.transport.Open(ctx); err != nil {
				return nil, err
			}
		}

		results, err := c.attempt(cmd, param)

		// One answer per connection either way: a failed attempt's
		// socket is useless and must not linger across the backoff
		// sleep.
		c.transport.Close()

		if err == nil {
			return results, nil
		}

		var merr *MinerError
		if !errors.As(err, &merr) || !merr.IsRetryable() {
			return nil, err
		}

		elapsed := time.Since(start)
		if elapsed >= retry.MaxRetryDuration {
			c.logWarn("giving up on command", "command", cmd.Wire(),
				"elapsed", elapsed.String(), "error", err)
			return nil, err
		}

		delay := backoffDelay(merr.Kind, attempt, retry, retry.MaxRetryDuration-elapsed)
		c.logWarn("retryable miner error", "command", cmd.Wire(),
			"attempt", attempt+1, "kind", merr.Kind.String(),
			"delay", delay.String(), "error", err)

		if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
			// Cancellation during backoff must not leave an open socket.
			c.transport.Close()
			return nil, sleepErr
		}
		attempt++
	}
}

// backoffDelay computes the linear backoff for one retry: the kind's
// base delay grows by itself each attempt, capped by maxDelay and by
// the time remaining in the retry budget.
func backoffDelay(kind RetryKind, attempt int, retry RetryConfig, remaining time.Duration) time.Duration {
	base := retry.BackoffShort
	if kind == KindRetryLong {
		base = retry.BackoffLong
	}

	delay := base * time.Duration(attempt+1)
	if delay > retry.MaxDelay {
		delay = retry.MaxDelay
	}
	if delay > remaining {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honour a pending cancellation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attempt performs one send/read/classify cycle.
func (c *Client) attempt(cmd Command, param any) (map[string]Result, error) {
	env, err := c.exchange(cmd, param)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Result, len(cmd.Tokens()))

	if !cmd.IsCombined() {
		token := cmd.Wire()
		result, err := c.classifier.Classify(env, token)
		if err != nil {
			return nil, err
		}
		if !result.Recognized {
			c.logWarn("unrecognized response code, returning whole response",
				"command", token)
		}
		results[token] = result
		return results, nil
	}

	// Combined command: every sub-response travels under its token as
	// a one-element sequence of per-command envelopes.
	for _, token := range cmd.Tokens() {
		raw, ok := env[token]
		if !ok {
			// A loaded device may answer partially; worth retrying.
			return nil, newMinerError(KindRetryShort,
				"no %s returned for %q request", token, cmd.Wire())
		}

		var subs []Envelope
		if err := json.Unmarshal(raw, &subs); err != nil || len(subs) == 0 {
			return nil, newMinerError(KindFatal,
				"malformed sub-response for %q in %q request", token, cmd.Wire())
		}

		result, err := c.classifier.Classify(subs[0], token)
		if err != nil {
			return nil, err
		}
		if !result.Recognized {
			c.logWarn("unrecognized response code, returning whole response",
				"command", token)
		}
		results[token] = result
	}
	return results, nil
}

// exchange encodes and sends the command, then reads and decodes the
// response. An empty or undecodable response is a retryable condition:
// the device tends to go quiet briefly around work restarts.
func (c *Client) exchange(cmd Command, param any) (Envelope, error) {
	req, err := c.encoder.Encode(cmd, param)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Write(req); err != nil {
		return nil, err
	}

	raw, err := c.framer.ReadMessage()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, newMinerError(KindRetryLong,
			"no response returned for command %q", cmd.Wire())
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logWarn("response is not valid JSON", "command", cmd.Wire(), "error", err)
		return nil, newMinerError(KindRetryLong,
			"undecodable response for command %q", cmd.Wire())
	}
	return env, nil
}

// logWarn logs through the optional logger.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logDebug logs through the optional logger.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
