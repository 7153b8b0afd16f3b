package miner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// startServer runs a one-answer-per-connection miner stand-in. Each
// accepted connection has its single request line read and decoded,
// then respond's payload written back, then the connection closed —
// the same lifecycle a real cgminer API serves. A nil payload closes
// the connection without answering.
func startServer(t *testing.T, respond func(req map[string]any) []byte) Endpoint {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()

				line, err := bufio.NewReader(conn).ReadBytes('\n')
				if err != nil {
					return
				}
				var req map[string]any
				if err := json.Unmarshal(line, &req); err != nil {
					return
				}
				if payload := respond(req); payload != nil {
					conn.Write(payload)
				}
			}(conn)
		}
	}()

	ep, err := ParseEndpoint(ln.Addr().String())
	if err != nil {
		t.Fatalf("parsing listener address: %v", err)
	}
	return ep
}

// fastConfig returns a client config with timeouts small enough for
// tests while preserving the first-byte/inter-read ratio.
func fastConfig(ep Endpoint) Config {
	return Config{
		Endpoint:         ep,
		FirstByteTimeout: 200 * time.Millisecond,
		InterReadTimeout: 20 * time.Millisecond,
		Retry: RetryConfig{
			MaxRetryDuration: 500 * time.Millisecond,
			BackoffShort:     10 * time.Millisecond,
			BackoffLong:      25 * time.Millisecond,
			MaxDelay:         50 * time.Millisecond,
		},
	}
}

func summaryEnvelope() string {
	return `{"STATUS":[{"STATUS":"S","When":1,"Code":11,"Msg":"Summary"}],` +
		`"SUMMARY":[{"Elapsed":3600,"MHS av":91234.5,"Accepted":100,"Rejected":2}],"id":1}`
}

func TestExecuteSummary(t *testing.T) {
	ep := startServer(t, func(req map[string]any) []byte {
		if req["command"] != "summary" {
			t.Errorf("command = %v, want summary", req["command"])
		}
		// Devices may NUL-terminate the blob; the framer strips it.
		return append([]byte(summaryEnvelope()), 0)
	})

	client := NewClient(fastConfig(ep))
	result, err := client.Execute(context.Background(), "summary", nil)
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if !result.Recognized {
		t.Error("Recognized = false, want true")
	}

	var summary struct {
		Elapsed  int     `json:"Elapsed"`
		Accepted int     `json:"Accepted"`
		MHSAv    float64 `json:"MHS av"`
	}
	if err := json.Unmarshal(result.Payload, &summary); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if summary.Elapsed != 3600 || summary.Accepted != 100 {
		t.Errorf("summary = %+v, want Elapsed=3600 Accepted=100", summary)
	}

	// One answer per connection: the socket must be closed afterwards.
	if client.transport.IsConnected() {
		t.Error("transport still connected after successful Execute")
	}
}

func TestExecuteCombined(t *testing.T) {
	ep := startServer(t, func(req map[string]any) []byte {
		if req["command"] != "summary+stats" {
			t.Errorf("command = %v, want summary+stats", req["command"])
		}
		return []byte(`{` +
			`"summary":[{"STATUS":[{"STATUS":"S","Code":11,"Msg":"Summary"}],"SUMMARY":[{"Elapsed":60}]}],` +
			`"stats":[{"STATUS":[{"STATUS":"S","Code":70,"Msg":"Stats"}],"STATS":[{"ID":"AVA10"}]}],` +
			`"id":1}`)
	})

	client := NewClient(fastConfig(ep))
	results, err := client.ExecuteCombined(context.Background(), []string{"summary", "stats"}, nil)
	if err != nil {
		t.Fatalf("ExecuteCombined() unexpected error: %v", err)
	}

	if want := `{"Elapsed":60}`; string(results["summary"].Payload) != want {
		t.Errorf("summary payload = %s, want %s", results["summary"].Payload, want)
	}
	if want := `[{"ID":"AVA10"}]`; string(results["stats"].Payload) != want {
		t.Errorf("stats payload = %s, want %s", results["stats"].Payload, want)
	}
}

func TestExecuteCombinedMissingKeyRetries(t *testing.T) {
	var calls atomic.Int32
	ep := startServer(t, func(req map[string]any) []byte {
		if calls.Add(1) == 1 {
			// Partial answer from a loaded device: no stats key.
			return []byte(`{"summary":[{"STATUS":[{"STATUS":"S","Code":11,"Msg":"Summary"}],"SUMMARY":[{"Elapsed":60}]}],"id":1}`)
		}
		return []byte(`{` +
			`"summary":[{"STATUS":[{"STATUS":"S","Code":11,"Msg":"Summary"}],"SUMMARY":[{"Elapsed":60}]}],` +
			`"stats":[{"STATUS":[{"STATUS":"S","Code":70,"Msg":"Stats"}],"STATS":[{"ID":"AVA10"}]}],` +
			`"id":1}`)
	})

	client := NewClient(fastConfig(ep))
	results, err := client.ExecuteCombined(context.Background(), []string{"summary", "stats"}, nil)
	if err != nil {
		t.Fatalf("ExecuteCombined() unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server answered %d times, want 2 (one retry)", got)
	}
	if _, ok := results["stats"]; !ok {
		t.Error("stats result missing after retry")
	}
}

func TestExecuteEmptyResponseExhaustsDeadline(t *testing.T) {
	// The device never answers: every attempt yields an empty read,
	// which is RetryLong, until the retry budget is spent.
	ep := startServer(t, func(map[string]any) []byte { return nil })

	cfg := fastConfig(ep)
	cfg.Retry.MaxRetryDuration = 200 * time.Millisecond
	client := NewClient(cfg)

	start := time.Now()
	_, err := client.Execute(context.Background(), "summary", nil)
	elapsed := time.Since(start)

	var merr *MinerError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want *MinerError", err)
	}
	if merr.Kind != KindRetryLong {
		t.Errorf("Kind = %s, want retry_long", merr.Kind)
	}

	// The loop may overshoot by at most one attempt's sleep, never by
	// a full base delay of the next backoff step.
	if elapsed > cfg.Retry.MaxRetryDuration+300*time.Millisecond {
		t.Errorf("Execute() took %v, want close to %v", elapsed, cfg.Retry.MaxRetryDuration)
	}
	if client.transport.IsConnected() {
		t.Error("transport still connected after retry exhaustion")
	}
}

func TestExecuteFatalDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	ep := startServer(t, func(map[string]any) []byte {
		calls.Add(1)
		return []byte(`{"STATUS":[{"STATUS":"E","Code":14,"Msg":"Invalid command"}],"id":1}`)
	})

	client := NewClient(fastConfig(ep))
	_, err := client.Execute(context.Background(), "bogus", nil)

	var merr *MinerError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want *MinerError", err)
	}
	if merr.Kind != KindFatal {
		t.Errorf("Kind = %s, want fatal", merr.Kind)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server answered %d times, want 1 (no retries)", got)
	}
	if client.transport.IsConnected() {
		t.Error("transport still connected after fatal error")
	}
}

func TestExecuteCancelDuringBackoff(t *testing.T) {
	ep := startServer(t, func(map[string]any) []byte {
		return []byte(`{"STATUS":[{"STATUS":"E","Code":0,"Msg":"Not Ready"}],"id":1}`)
	})

	cfg := fastConfig(ep)
	cfg.Retry.BackoffShort = 5 * time.Second // Force a long sleep.
	cfg.Retry.MaxDelay = 5 * time.Second
	cfg.Retry.MaxRetryDuration = time.Minute
	client := NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Execute(ctx, "stats", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, want prompt return", elapsed)
	}
	// Cleanup contract: no dangling socket on cancellation.
	if client.transport.IsConnected() {
		t.Error("transport still connected after cancellation")
	}
}

func TestExecuteConnectionRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ep, err := ParseEndpoint(ln.Addr().String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ln.Close()

	client := NewClient(fastConfig(ep))
	_, err = client.Execute(context.Background(), "summary", nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("error = %v, want ErrConnectionFailed", err)
	}
}

func TestBackoffDelayLinearCapped(t *testing.T) {
	retry := RetryConfig{
		BackoffShort: time.Second,
		BackoffLong:  10 * time.Second,
		MaxDelay:     60 * time.Second,
	}
	remaining := time.Hour

	// Short kind: 1,2,3,... capped at 60.
	for _, tt := range []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{9, 10 * time.Second},
		{59, 60 * time.Second},
		{60, 60 * time.Second},
		{100, 60 * time.Second},
	} {
		got := backoffDelay(KindRetryShort, tt.attempt, retry, remaining)
		if got != tt.want {
			t.Errorf("backoffDelay(short, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	// Long kind uses the long base.
	if got := backoffDelay(KindRetryLong, 0, retry, remaining); got != 10*time.Second {
		t.Errorf("backoffDelay(long, 0) = %v, want 10s", got)
	}
	if got := backoffDelay(KindRetryLong, 5, retry, remaining); got != 60*time.Second {
		t.Errorf("backoffDelay(long, 5) = %v, want capped 60s", got)
	}

	// Never sleep past the remaining budget.
	if got := backoffDelay(KindRetryLong, 0, retry, 3*time.Second); got != 3*time.Second {
		t.Errorf("backoffDelay with 3s remaining = %v, want 3s", got)
	}
	if got := backoffDelay(KindRetryShort, 0, retry, -time.Second); got != 0 {
		t.Errorf("backoffDelay with negative remaining = %v, want 0", got)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{in: "cgminer", want: DialectCGMiner},
		{in: "", want: DialectCGMiner},
		{in: "bosminer", want: DialectBOSminer},
		{in: "kawpow", want: DialectKawPow},
		{in: "unknown", want: DialectUnknown},
		{in: "antminer", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDialect(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDialect(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	r := RetryConfig{}.withDefaults()
	if r.MaxRetryDuration != defaultMaxRetryDuration {
		t.Errorf("MaxRetryDuration = %v, want %v", r.MaxRetryDuration, defaultMaxRetryDuration)
	}
	if r.BackoffShort != defaultBackoffShort {
		t.Errorf("BackoffShort = %v, want %v", r.BackoffShort, defaultBackoffShort)
	}
	if r.BackoffLong != defaultBackoffLong {
		t.Errorf("BackoffLong = %v, want %v", r.BackoffLong, defaultBackoffLong)
	}
	if r.MaxDelay != defaultMaxDelay {
		t.Errorf("MaxDelay = %v, want %v", r.MaxDelay, defaultMaxDelay)
	}

	// Explicit values survive.
	r = RetryConfig{MaxRetryDuration: 5 * time.Second}.withDefaults()
	if r.MaxRetryDuration != 5*time.Second {
		t.Errorf("MaxRetryDuration = %v, want 5s", r.MaxRetryDuration)
	}
}

func TestExecuteRetryMessageSurfacesDeviceText(t *testing.T) {
	ep := startServer(t, func(map[string]any) []byte {
		return []byte(`{"STATUS":[{"STATUS":"E","Code":0,"Msg":"Not Ready"}],"id":1}`)
	})

	cfg := fastConfig(ep)
	cfg.Retry.MaxRetryDuration = 100 * time.Millisecond
	client := NewClient(cfg)

	_, err := client.Execute(context.Background(), "stats", nil)
	if err == nil {
		t.Fatal("Execute() expected error")
	}
	if !strings.Contains(err.Error(), "Not Ready") {
		t.Errorf("error %q does not carry the device message", err)
	}
}
