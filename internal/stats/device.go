package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/minerwatch/minerwatch-core/internal/miner"
)

// Device is one hashboard as reported by the "devs" command.
type Device struct {
	ID         int     `json:"ID"`
	NominalMHS float64 `json:"Nominal MHS"`
	MHS1m      float64 `json:"MHS 1m"`
}

// Temperature is one hashboard's temperature block (BOSminer "temps").
type Temperature struct {
	ID    int     `json:"ID"`
	Board float64 `json:"Board"`
	Chip  float64 `json:"Chip"`
}

// Fan is one fan's state (BOSminer "fans").
type Fan struct {
	ID    int `json:"ID"`
	RPM   int `json:"RPM"`
	Speed int `json:"Speed"`
}

// DeviceInfo joins the three BOSminer per-device blocks of one poll.
type DeviceInfo struct {
	Devs  []Device
	Temps []Temperature
	Fans  []Fan
}

// CollectDeviceInfo fetches device, temperature and fan data from a
// BOSminer in one combined request, going through the executor's full
// retry loop.
//
// Parameters:
//   - ctx: Context for cancellation
//   - client: A client configured for the BOSminer dialect
//
// Returns:
//   - *DeviceInfo: Decoded blocks, ready for joining by board ID
//   - error: Retry exhaustion or a fatal protocol error
func CollectDeviceInfo(ctx context.Context, client *miner.Client) (*DeviceInfo, error) {
	results, err := client.ExecuteCombined(ctx, []string{"devs", "temps", "fans"}, nil)
	if err != nil {
		return nil, err
	}

	info := &DeviceInfo{}
	if err := json.Unmarshal(results["devs"].Payload, &info.Devs); err != nil {
		return nil, fmt.Errorf("stats: decoding devs: %w", err)
	}
	if err := json.Unmarshal(results["temps"].Payload, &info.Temps); err != nil {
		return nil, fmt.Errorf("stats: decoding temps: %w", err)
	}
	if err := json.Unmarshal(results["fans"].Payload, &info.Fans); err != nil {
		return nil, fmt.Errorf("stats: decoding fans: %w", err)
	}
	return info, nil
}

// TempByID returns the temperature block for one board.
//
// Boards without a temperature reading happen in practice (sensor
// failures, mixed firmware); callers should fall back to "no data"
// display rather than failing the whole poll.
func (d *DeviceInfo) TempByID(id int) (Temperature, bool) {
	for _, t := range d.Temps {
		if t.ID == id {
			return t, true
		}
	}
	return Temperature{}, false
}

// MaxFanSpeed returns the highest fan duty cycle percentage in the
// snapshot, or zero when no fans are reported. Used by callers that
// track sustained high-fan conditions across polls.
func (d *DeviceInfo) MaxFanSpeed() int {
	max := 0
	for _, f := range d.Fans {
		if f.RPM > 0 && f.Speed > max {
			max = f.Speed
		}
	}
	return max
}
