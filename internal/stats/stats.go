package stats

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Hashrate unit thresholds, in MH/s. The odd boundaries (1100, not
// 1000) match what the devices themselves report around unit edges.
const (
	terahashThreshold = 1200000
	gigahashThreshold = 1100
)

// Summary is the decoded "summary" payload of a classic-dialect miner.
// Only the fields the telemetry layer consumes are typed; every "MHS
// xx" window rate is collected into Rates.
type Summary struct {
	// Elapsed is the miner's uptime in seconds.
	Elapsed int64

	// MHSAv is the average hashrate in MH/s since start.
	MHSAv float64

	// Accepted and Rejected are cumulative share counts.
	Accepted int64
	Rejected int64

	// Rates maps each reported rate window ("MHS av", "MHS 5s", ...)
	// to its MH/s value.
	Rates map[string]float64
}

// ParseSummary decodes the classifier's summary payload (the unwrapped
// first SUMMARY element).
func ParseSummary(raw json.RawMessage) (*Summary, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("stats: decoding summary: %w", err)
	}

	s := &Summary{Rates: make(map[string]float64)}
	s.Elapsed = asInt(fields["Elapsed"])
	s.Accepted = asInt(fields["Accepted"])
	s.Rejected = asInt(fields["Rejected"])

	for key, value := range fields {
		if !strings.HasPrefix(key, "MHS") {
			continue
		}
		if v, ok := value.(float64); ok {
			s.Rates[key] = v
		}
	}
	s.MHSAv = s.Rates["MHS av"]

	return s, nil
}

// asInt coerces a decoded JSON number to int64, tolerating the float64
// that encoding/json produces for all numbers.
func asInt(v any) int64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int64(f)
}

// MM holds one mining module's key/value stats after restructuring.
type MM map[string]string

// Float returns a stats value as float64.
func (m MM) Float(key string) (float64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("stats: MM has no %q", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("stats: MM %q: %w", key, err)
	}
	return v, nil
}

// Int returns a stats value as int64.
func (m MM) Int(key string) (int64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("stats: MM has no %q", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stats: MM %q: %w", key, err)
	}
	return v, nil
}

// DNA returns the module's identity string, empty when absent.
func (m MM) DNA() string {
	return m["DNA"]
}

// mmPairPattern matches one "Key[value]" pair inside an MM ID blob.
var mmPairPattern = regexp.MustCompile(`(\w+)\[([^\]]*)\]`)

// RestructureMM converts the flat "MM IDn" strings of an Avalon-style
// stats block into per-module maps.
//
// The device reports each module as a single string of "Key[value]"
// pairs under "MM ID1".."MM IDn", with "MM Count" giving n. These
// should be structured objects but aren't, so the restructuring lives
// here once instead of in every consumer.
//
// Parameters:
//   - statsBlock: The classifier's stats payload (the full STATS
//     sequence); only the first element carries MM data
//
// Returns:
//   - []MM: One map per mining module, in reported order
//   - error: When the block has no first element or no "MM Count"
func RestructureMM(statsBlock json.RawMessage) ([]MM, error) {
	var elements []map[string]any
	if err := json.Unmarshal(statsBlock, &elements); err != nil {
		return nil, fmt.Errorf("stats: decoding stats block: %w", err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("stats: empty stats block")
	}
	first := elements[0]

	countRaw, ok := first["MM Count"]
	if !ok {
		return nil, fmt.Errorf("stats: expected 'MM Count' in stats response")
	}
	count := int(asInt(countRaw))

	modules := make([]MM, 0, count)
	for i := 1; i <= count; i++ {
		key := fmt.Sprintf("MM ID%d", i)
		blob, ok := first[key].(string)
		if !ok {
			return nil, fmt.Errorf("stats: missing or non-string %q", key)
		}

		mm := make(MM)
		for _, match := range mmPairPattern.FindAllStringSubmatch(blob, -1) {
			mm[match[1]] = match[2]
		}
		modules = append(modules, mm)
	}
	return modules, nil
}

// ScaleHashrate picks a display unit for a hashrate given in MH/s.
//
// Returns the scaled value and its unit ("MH/s", "GH/s" or "TH/s"),
// using binary (1024) steps as the devices do.
func ScaleHashrate(mhs float64) (float64, string) {
	switch {
	case mhs > terahashThreshold:
		return mhs / 1024.0 / 1024.0, "TH/s"
	case mhs > gigahashThreshold:
		return mhs / 1024.0, "GH/s"
	default:
		return mhs, "MH/s"
	}
}
