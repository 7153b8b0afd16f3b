package poller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/minerwatch/minerwatch-core/internal/infrastructure/mqtt"
	"github.com/minerwatch/minerwatch-core/internal/miner"
	"github.com/minerwatch/minerwatch-core/internal/stats"
)

// highFanThreshold is the fan duty cycle percentage above which a fan
// counts as running high.
const highFanThreshold = 95

// Snapshot is one miner's poll outcome, shaped for the telemetry
// topic. Failed polls carry only Miner, Site, Timestamp and Error.
type Snapshot struct {
	Miner     string    `json:"miner"`
	Site      string    `json:"site,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Dialect   string    `json:"dialect"`

	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// Elapsed is the miner's uptime in seconds.
	Elapsed int64 `json:"elapsed,omitempty"`

	// MHSAv is the average hashrate in MH/s; Hashrate and HashrateUnit
	// carry the same value scaled for display.
	MHSAv        float64 `json:"mhs_av,omitempty"`
	Hashrate     float64 `json:"hashrate,omitempty"`
	HashrateUnit string  `json:"hashrate_unit,omitempty"`

	Accepted int64 `json:"accepted,omitempty"`
	Rejected int64 `json:"rejected,omitempty"`

	// AcceptedDelta and RejectedDelta are shares since the previous
	// cycle. Absent on the first poll and after a miner restart.
	AcceptedDelta int64 `json:"accepted_delta,omitempty"`
	RejectedDelta int64 `json:"rejected_delta,omitempty"`

	// MaxTemp and MaxFanRPM summarise the per-board detail for rigs
	// that report it.
	MaxTemp   float64 `json:"max_temp,omitempty"`
	MaxFanRPM int     `json:"max_fan_rpm,omitempty"`

	// HighFanSeconds is how long every reported fan duty cycle has been
	// at or above the high-fan threshold. Sustained high fan usually
	// means a cooling problem before it becomes a temperature problem.
	HighFanSeconds int64 `json:"high_fan_seconds,omitempty"`

	// Devices carries the per-board detail for BOSminer rigs, or the
	// raw statdetail block for KawPow rigs.
	devices *stats.DeviceInfo
	raw     json.RawMessage
}

// collect polls one miner and builds its snapshot. The dialect decides
// the command set: classic rigs answer "summary", BOSminer rigs add
// the combined devs+temps+fans detail, KawPow rigs speak their own
// JSON-RPC methods.
func (p *Poller) collect(ctx context.Context, t *target) Snapshot {
	snap := Snapshot{
		Miner:     t.name,
		Site:      p.cfg.Site,
		Timestamp: time.Now().UTC(),
		Dialect:   t.client.Dialect().String(),
	}

	if t.client.Dialect() == miner.DialectKawPow {
		p.collectKawPow(ctx, t, &snap)
	} else {
		p.collectClassic(ctx, t, &snap)
	}

	if snap.OK {
		p.applyDeltas(t, &snap)
		p.applyFanState(t, &snap)
	} else {
		t.hasPrev = false
		t.highFanSince = time.Time{}
	}
	return snap
}

// collectClassic handles the cgminer and BOSminer dialects.
func (p *Poller) collectClassic(ctx context.Context, t *target, snap *Snapshot) {
	result, err := t.client.Execute(ctx, "summary", nil)
	if err != nil {
		snap.Error = err.Error()
		return
	}

	summary, err := stats.ParseSummary(result.Payload)
	if err != nil {
		snap.Error = err.Error()
		return
	}

	snap.OK = true
	snap.Elapsed = summary.Elapsed
	snap.MHSAv = summary.MHSAv
	snap.Hashrate, snap.HashrateUnit = stats.ScaleHashrate(summary.MHSAv)
	snap.Accepted = summary.Accepted
	snap.Rejected = summary.Rejected

	if t.client.Dialect() == miner.DialectBOSminer {
		// Device detail is supplementary; a rig that answers summary
		// but not the combined request still counts as up.
		info, err := stats.CollectDeviceInfo(ctx, t.client)
		if err != nil {
			p.logWarn("device detail unavailable", "miner", t.name, "error", err)
			return
		}
		applyDeviceDetail(snap, info)
		return
	}

	p.collectModuleStats(ctx, t, snap)
}

// collectModuleStats supplements classic-rig polls with the Avalon MM
// module detail from the "stats" command. Rigs without MM blocks
// answer stats in other shapes; that is not an error.
func (p *Poller) collectModuleStats(ctx context.Context, t *target, snap *Snapshot) {
	result, err := t.client.Execute(ctx, "stats", nil)
	if err != nil {
		p.logWarn("stats unavailable", "miner", t.name, "error", err)
		return
	}

	modules, err := stats.RestructureMM(result.Payload)
	if err != nil {
		p.logDebug("no module data in stats", "miner", t.name, "error", err)
		return
	}

	info := &stats.DeviceInfo{}
	for i, mm := range modules {
		dev := stats.Device{ID: i}
		if ghs, ferr := mm.Float("GHSmm"); ferr == nil {
			dev.MHS1m = ghs * 1024.0
		}
		info.Devs = append(info.Devs, dev)

		temp := stats.Temperature{ID: i}
		if v, ferr := mm.Float("Temp"); ferr == nil {
			temp.Board = v
		}
		if v, ferr := mm.Float("TMax"); ferr == nil {
			temp.Chip = v
		}
		info.Temps = append(info.Temps, temp)

		fan := stats.Fan{ID: i}
		if rpm, ferr := mm.Int("Fan"); ferr == nil {
			fan.RPM = int(rpm)
		}
		if duty, ferr := mm.Int("FanR"); ferr == nil {
			fan.Speed = int(duty)
		}
		if fan.RPM > 0 {
			info.Fans = append(info.Fans, fan)
		}
	}

	applyDeviceDetail(snap, info)
}

// applyDeviceDetail attaches per-board detail to the snapshot and
// derives its maxima.
func applyDeviceDetail(snap *Snapshot, info *stats.DeviceInfo) {
	snap.devices = info
	for _, temp := range info.Temps {
		if temp.Board > snap.MaxTemp {
			snap.MaxTemp = temp.Board
		}
		if temp.Chip > snap.MaxTemp {
			snap.MaxTemp = temp.Chip
		}
	}
	for _, fan := range info.Fans {
		if fan.RPM > snap.MaxFanRPM {
			snap.MaxFanRPM = fan.RPM
		}
	}
}

// collectKawPow handles the kawpowminer dialect: a liveness ping, then
// the detailed stats block passed through raw.
func (p *Poller) collectKawPow(ctx context.Context, t *target, snap *Snapshot) {
	if err := t.client.Ping(ctx); err != nil {
		snap.Error = err.Error()
		return
	}

	snap.OK = true

	detail, err := t.client.StatDetail(ctx)
	if err != nil {
		p.logWarn("statdetail unavailable", "miner", t.name, "error", err)
		return
	}
	snap.raw = detail
}

// applyDeltas computes per-cycle share deltas against the previous
// snapshot. A counter going backwards means the miner restarted; the
// history resets rather than reporting a negative delta.
func (p *Poller) applyDeltas(t *target, snap *Snapshot) {
	if t.hasPrev && snap.Accepted >= t.lastAccepted && snap.Rejected >= t.lastRejected {
		snap.AcceptedDelta = snap.Accepted - t.lastAccepted
		snap.RejectedDelta = snap.Rejected - t.lastRejected
	}
	t.lastAccepted = snap.Accepted
	t.lastRejected = snap.Rejected
	t.hasPrev = true
}

// applyFanState tracks how long the rig has been running all fans at
// or above the high-fan duty threshold. The window resets when any
// cycle reports a fan below the threshold or no fan data at all.
func (p *Poller) applyFanState(t *target, snap *Snapshot) {
	if snap.devices == nil || snap.devices.MaxFanSpeed() < highFanThreshold {
		t.highFanSince = time.Time{}
		return
	}

	if t.highFanSince.IsZero() {
		t.highFanSince = snap.Timestamp
		p.logWarn("sustained high fan duty started", "miner", t.name,
			"speed", snap.devices.MaxFanSpeed())
	}
	snap.HighFanSeconds = int64(snap.Timestamp.Sub(t.highFanSince).Seconds())
}

// publish sends the snapshot to the telemetry topics. Telemetry and
// availability are retained so late subscribers see the last state.
func (p *Poller) publish(t *target, snap Snapshot) {
	pub := p.cfg.Publisher
	if pub == nil || !pub.IsConnected() {
		return
	}

	topics := mqtt.Topics{}

	payload, err := json.Marshal(snap)
	if err != nil {
		p.logError("failed to encode telemetry", "miner", t.name, "error", err)
		return
	}
	if err := pub.Publish(topics.MinerTelemetry(t.name), payload, p.cfg.QoS, true); err != nil {
		p.logError("failed to publish telemetry", "miner", t.name, "error", err)
	}

	availability := "offline"
	if snap.OK {
		availability = "online"
	}
	if err := pub.Publish(topics.MinerAvailability(t.name), []byte(availability), p.cfg.QoS, true); err != nil {
		p.logError("failed to publish availability", "miner", t.name, "error", err)
	}

	devices := p.devicesPayload(t, snap)
	if devices == nil {
		return
	}
	if err := pub.Publish(topics.MinerDevices(t.name), devices, p.cfg.QoS, true); err != nil {
		p.logError("failed to publish device detail", "miner", t.name, "error", err)
	}
}

// devicesPayload encodes the per-board detail, when the poll produced
// any.
func (p *Poller) devicesPayload(t *target, snap Snapshot) []byte {
	if snap.raw != nil {
		return snap.raw
	}
	if snap.devices == nil {
		return nil
	}
	payload, err := json.Marshal(snap.devices)
	if err != nil {
		p.logError("failed to encode device detail", "miner", t.name, "error", err)
		return nil
	}
	return payload
}

// sink fans the snapshot out to every metrics sink.
func (p *Poller) sink(t *target, snap Snapshot) {
	for _, s := range p.cfg.Sinks {
		s.WriteAvailability(t.name, snap.OK)
		if !snap.OK {
			continue
		}

		fields := map[string]interface{}{
			"elapsed":  snap.Elapsed,
			"mhs_av":   snap.MHSAv,
			"accepted": snap.Accepted,
			"rejected": snap.Rejected,
		}
		if snap.AcceptedDelta > 0 || snap.RejectedDelta > 0 {
			fields["accepted_delta"] = snap.AcceptedDelta
			fields["rejected_delta"] = snap.RejectedDelta
		}
		if snap.HighFanSeconds > 0 {
			fields["high_fan_seconds"] = snap.HighFanSeconds
		}
		s.WriteMinerSummary(t.name, t.labels, fields)

		if snap.devices == nil {
			continue
		}
		for _, dev := range snap.devices.Devs {
			s.WriteBoardMetric(t.name, dev.ID, "mhs_1m", dev.MHS1m)
		}
		for _, temp := range snap.devices.Temps {
			s.WriteBoardMetric(t.name, temp.ID, "temp_board", temp.Board)
			s.WriteBoardMetric(t.name, temp.ID, "temp_chip", temp.Chip)
		}
		for _, fan := range snap.devices.Fans {
			s.WriteFanMetric(t.name, fan.ID, fan.RPM)
		}
	}
}
