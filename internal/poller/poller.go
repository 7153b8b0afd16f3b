package poller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minerwatch/minerwatch-core/internal/history"
	"github.com/minerwatch/minerwatch-core/internal/infrastructure/mqtt"
	"github.com/minerwatch/minerwatch-core/internal/miner"
)

// defaultCycleInterval is the poll interval when none is configured.
const defaultCycleInterval = 30 * time.Second

// pruneInterval is how often retained history is checked against the
// retention window. Pruning is cheap (one indexed DELETE), so hourly
// keeps the table bounded without measurable load.
const pruneInterval = time.Hour

// Publisher is the interface for publishing telemetry messages.
// This is typically implemented by an MQTT client.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// MetricsSink receives per-poll measurements. Both the InfluxDB and
// the VictoriaMetrics clients satisfy it; a poller can fan out to any
// number of sinks.
type MetricsSink interface {
	WriteMinerSummary(miner string, labels map[string]string, fields map[string]interface{})
	WriteBoardMetric(miner string, boardID int, measurement string, value float64)
	WriteFanMetric(miner string, fanID int, rpm int)
	WriteAvailability(miner string, up bool)
}

// Recorder persists poll outcomes. Satisfied by history.Repository.
type Recorder interface {
	EnsureMiner(ctx context.Context, name, endpoint, dialect string) (int64, error)
	RecordPoll(ctx context.Context, rec history.Record) error
}

// Pruner deletes poll history older than the retention window.
// Satisfied by history.Repository.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Subscriber receives command messages. The MQTT client satisfies it
// through a thin adapter in cmd/minerwatch.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface for the poller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Target describes one miner to poll.
type Target struct {
	// Name identifies the miner in topics, metrics and storage.
	Name string

	// Endpoint is the miner API address in "host:port" form.
	Endpoint string

	// Dialect is "cgminer", "bosminer", "kawpow", or "auto" to probe
	// the device on first contact. Empty means cgminer.
	Dialect string

	// Labels are attached as tags to every metric for this miner.
	Labels map[string]string
}

// Config holds poller configuration.
type Config struct {
	// Site tags every telemetry message with its origin.
	Site string

	// Targets are the miners to poll. At least one is required.
	Targets []Target

	// CycleInterval is the time between poll cycles. Default: 30s.
	CycleInterval time.Duration

	// ConnectTimeout bounds each miner's TCP dial.
	ConnectTimeout time.Duration

	// Retry bounds each request's retry loop.
	Retry miner.RetryConfig

	// QoS is the MQTT quality of service for telemetry messages.
	QoS byte

	// Publisher receives telemetry and availability messages.
	// Optional; nil disables MQTT output.
	Publisher Publisher

	// Sinks receive per-poll measurements. Optional.
	Sinks []MetricsSink

	// Recorder persists poll outcomes. Optional; nil disables history.
	Recorder Recorder

	// Pruner deletes history beyond Retention. Optional.
	Pruner Pruner

	// Retention is how long poll history is kept. Zero disables
	// pruning even when a Pruner is set.
	Retention time.Duration

	// Subscriber listens on the command topics for on-demand polls.
	// Optional; nil disables commands.
	Subscriber Subscriber
}

// target is one miner's polling state across cycles.
type target struct {
	name   string
	labels map[string]string

	// mu serialises polls of this miner. A command-triggered poll
	// arriving mid-cycle must not race the cycle goroutine over the
	// delta counters and fan window.
	mu sync.Mutex

	client     *miner.Client
	autoDetect bool

	// minerID is the storage row ID, resolved on first contact with
	// the recorder.
	minerID int64

	// up tracks reachability so availability transitions get logged
	// once, not every cycle.
	up    bool
	first bool

	// lastAccepted and lastRejected hold the previous cycle's share
	// counters for delta computation. Valid when hasPrev is true.
	lastAccepted int64
	lastRejected int64
	hasPrev      bool

	// highFanSince marks when the current sustained high-fan window
	// started. Zero when fans are below the threshold.
	highFanSince time.Time
}

// Poller drives the periodic polling of all configured miners.
//
// Each cycle every miner is polled concurrently; results fan out to
// the publisher, the metrics sinks and the recorder. A slow or dead
// miner delays only its own goroutine, never the cycle of the others.
type Poller struct {
	cfg     Config
	targets []*target
	byName  map[string]*target

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Poller from cfg. Every target's endpoint and dialect
// is validated up front; a bad entry fails construction rather than
// surfacing mid-cycle.
func New(cfg Config) (*Poller, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("poller: no targets configured")
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = defaultCycleInterval
	}

	targets := make([]*target, 0, len(cfg.Targets))
	byName := make(map[string]*target, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		if tc.Name == "" {
			return nil, fmt.Errorf("poller: target with empty name")
		}
		if _, dup := byName[tc.Name]; dup {
			return nil, fmt.Errorf("poller: duplicate target name %q", tc.Name)
		}

		ep, err := miner.ParseEndpoint(tc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("poller: target %q: %w", tc.Name, err)
		}

		autoDetect := tc.Dialect == "auto"
		dialect := miner.DialectUnknown
		if !autoDetect {
			dialect, err = miner.ParseDialect(tc.Dialect)
			if err != nil {
				return nil, fmt.Errorf("poller: target %q: %w", tc.Name, err)
			}
		}

		client := miner.NewClient(miner.Config{
			Endpoint:       ep,
			Dialect:        dialect,
			ConnectTimeout: cfg.ConnectTimeout,
			Retry:          cfg.Retry,
		})

		t := &target{
			name:       tc.Name,
			labels:     tc.Labels,
			client:     client,
			autoDetect: autoDetect,
			first:      true,
		}
		targets = append(targets, t)
		byName[tc.Name] = t
	}

	return &Poller{
		cfg:     cfg,
		targets: targets,
		byName:  byName,
		done:    make(chan struct{}),
	}, nil
}

// Start begins the polling loop, the retention pruner, and the
// command subscription. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop polling when cancelled)
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.pollLoop(ctx)

	if p.cfg.Pruner != nil && p.cfg.Retention > 0 {
		p.wg.Add(1)
		go p.pruneLoop(ctx)
	}

	if p.cfg.Subscriber != nil {
		topic := mqtt.Topics{}.AllCommands()
		err := p.cfg.Subscriber.Subscribe(topic, p.cfg.QoS, func(topic string, payload []byte) error {
			return p.handleCommand(ctx, topic, payload)
		})
		if err != nil {
			p.logError("command subscription failed", "topic", topic, "error", err)
		} else {
			p.logInfo("listening for commands", "topic", topic)
		}
	}
}

// Stop gracefully stops the poller. Any in-flight cycle finishes
// first. Safe to call multiple times (uses sync.Once).
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cfg.Subscriber != nil {
			if err := p.cfg.Subscriber.Unsubscribe(mqtt.Topics{}.AllCommands()); err != nil {
				p.logWarn("command unsubscribe failed", "error", err)
			}
		}
		close(p.done)
		p.wg.Wait()
	})
}

// SetLogger sets the logger for this poller. The logger is also
// forwarded to each miner client for retry diagnostics.
func (p *Poller) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()

	for _, t := range p.targets {
		t.client.SetLogger(logger)
	}
}

// pollLoop runs the periodic poll cycle. The first cycle starts
// immediately; subsequent cycles follow the ticker.
func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.CycleInterval)
	defer ticker.Stop()

	p.pollCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.pollCycle(ctx)
		}
	}
}

// pruneLoop trims poll history to the retention window. The first
// prune runs at startup so a long-stopped service recovers its disk
// space immediately.
func (p *Poller) pruneLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Poller) prune(ctx context.Context) {
	deleted, err := p.cfg.Pruner.Prune(ctx, p.cfg.Retention)
	if err != nil {
		p.logError("history prune failed", "error", err)
		return
	}
	if deleted > 0 {
		p.logInfo("pruned poll history", "deleted", deleted, "retention", p.cfg.Retention.String())
	}
}

// handleCommand reacts to a message on minerwatch/command/<miner>.
// The only command today is "poll": run a full poll of that one miner
// immediately instead of waiting for the next cycle.
func (p *Poller) handleCommand(ctx context.Context, topic string, payload []byte) error {
	name := topic[strings.LastIndexByte(topic, '/')+1:]
	command := strings.ToLower(strings.TrimSpace(string(payload)))

	t, known := p.byName[name]
	if !known {
		return fmt.Errorf("command for unknown miner %q", name)
	}
	if command != "poll" {
		return fmt.Errorf("unknown command %q for miner %q", command, name)
	}

	p.logInfo("on-demand poll requested", "miner", name)
	p.pollMiner(ctx, t)
	return nil
}

// pollCycle polls every miner concurrently and waits for all of them.
func (p *Poller) pollCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range p.targets {
		wg.Add(1)
		go func(t *target) {
			defer wg.Done()
			p.pollMiner(ctx, t)
		}(t)
	}
	wg.Wait()
}

// pollMiner runs one full poll of one miner and fans the outcome out
// to every configured output.
func (p *Poller) pollMiner(ctx context.Context, t *target) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.autoDetect && t.client.Dialect() == miner.DialectUnknown {
		p.detectDialect(ctx, t)
	}

	snap := p.collect(ctx, t)

	if snap.OK != t.up || t.first {
		if snap.OK {
			p.logInfo("miner reachable", "miner", t.name, "dialect", t.client.Dialect().String())
		} else {
			p.logWarn("miner unreachable", "miner", t.name, "error", snap.Error)
		}
	}
	t.up = snap.OK
	t.first = false

	p.publish(t, snap)
	p.sink(t, snap)
	p.record(ctx, t, snap)
}

// detectDialect probes the device once and rebuilds the client with
// the detected dialect. An inconclusive probe leaves the client in
// generic cgminer handling and retries detection next cycle.
func (p *Poller) detectDialect(ctx context.Context, t *target) {
	detected := t.client.DetectDialect(ctx)
	if detected == miner.DialectUnknown {
		p.logDebug("dialect probe inconclusive", "miner", t.name)
		return
	}

	p.logInfo("dialect detected", "miner", t.name, "dialect", detected.String())
	t.autoDetect = false
	t.client = miner.NewClient(miner.Config{
		Endpoint:       t.client.Endpoint(),
		Dialect:        detected,
		ConnectTimeout: p.cfg.ConnectTimeout,
		Retry:          p.cfg.Retry,
	})
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()
	if logger != nil {
		t.client.SetLogger(logger)
	}
}

// record persists the poll outcome, registering the miner on first use.
func (p *Poller) record(ctx context.Context, t *target, snap Snapshot) {
	if p.cfg.Recorder == nil {
		return
	}

	if t.minerID == 0 {
		id, err := p.cfg.Recorder.EnsureMiner(ctx, t.name, t.client.Endpoint().Addr(), t.client.Dialect().String())
		if err != nil {
			p.logError("failed to register miner", "miner", t.name, "error", err)
			return
		}
		t.minerID = id
	}

	rec := history.Record{
		MinerID:  t.minerID,
		PolledAt: snap.Timestamp,
		OK:       snap.OK,
		Error:    snap.Error,
	}
	if snap.OK {
		rec.Elapsed = snap.Elapsed
		rec.MHSAv = snap.MHSAv
		rec.Accepted = snap.Accepted
		rec.Rejected = snap.Rejected
		rec.MaxTemp = snap.MaxTemp
		rec.MaxFanRPM = int64(snap.MaxFanRPM)
	}

	if err := p.cfg.Recorder.RecordPoll(ctx, rec); err != nil {
		p.logError("failed to record poll", "miner", t.name, "error", err)
	}
}

func (p *Poller) logDebug(msg string, args ...any) {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Poller) logInfo(msg string, args ...any) {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Poller) logWarn(msg string, args ...any) {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Poller) logError(msg string, args ...any) {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	if p.logger != nil {
		p.logger.Error(msg, args...)
	}
}
