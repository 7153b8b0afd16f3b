package tsdb

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// WriteMinerSummary writes a miner's summary reading to VictoriaMetrics.
//
// This is the primary method for recording per-cycle telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - miner: Miner name from config (e.g., "avalon-01")
//   - labels: Extra tags attached to the point (rack, pool, etc.)
//   - fields: Summary values (mhs_av, accepted, rejected, elapsed, ...)
//
// Example:
//
//	client.WriteMinerSummary("avalon-01", labels, map[string]interface{}{
//	    "mhs_av":   81350.2,
//	    "accepted": int64(1024),
//	})
func (c *Client) WriteMinerSummary(miner string, labels map[string]string, fields map[string]interface{}) {
	tags := map[string]string{"miner": miner}
	for k, v := range labels {
		tags[k] = v
	}

	c.addLine(formatLineProtocol("miner_summary", tags, fields, time.Now()))
}

// WriteBoardMetric writes a per-hashboard measurement.
//
// Used for BOSminer rigs where devs/temps are reported per board.
//
// Parameters:
//   - miner: Miner name
//   - boardID: Hashboard index as reported by the miner
//   - measurement: Metric name (e.g., "mhs_1m", "temp_chip", "temp_board")
//   - value: The metric value
func (c *Client) WriteBoardMetric(miner string, boardID int, measurement string, value float64) {
	c.addLine(formatLineProtocol(
		"miner_board",
		map[string]string{
			"miner":       miner,
			"measurement": measurement,
		},
		map[string]interface{}{
			"board": boardID,
			"value": value,
		},
		time.Now(),
	))
}

// WriteFanMetric writes a fan speed measurement.
//
// Parameters:
//   - miner: Miner name
//   - fanID: Fan index as reported by the miner
//   - rpm: Measured speed in RPM
func (c *Client) WriteFanMetric(miner string, fanID int, rpm int) {
	c.addLine(formatLineProtocol(
		"miner_fan",
		map[string]string{
			"miner": miner,
		},
		map[string]interface{}{
			"fan": fanID,
			"rpm": rpm,
		},
		time.Now(),
	))
}

// WriteAvailability records whether a miner answered its poll.
//
// Parameters:
//   - miner: Miner name
//   - up: true if the poll succeeded
func (c *Client) WriteAvailability(miner string, up bool) {
	value := 0
	if up {
		value = 1
	}

	c.addLine(formatLineProtocol(
		"miner_up",
		map[string]string{
			"miner": miner,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("poll_stats",
//	    map[string]string{"site": "site-001"},
//	    map[string]interface{}{"cycle_ms": 1820, "miners_up": 7})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.addLine(formatLineProtocol(measurement, tags, fields, time.Now()))
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	c.addLine(formatLineProtocol(measurement, tags, fields, timestamp))
}

// formatLineProtocol formats a data point as an InfluxDB line protocol string.
//
// Format: measurement,tag1=val1,tag2=val2 field1=val1,field2=val2 timestamp_ns
//
// VictoriaMetrics accepts this format on the /write endpoint.
func formatLineProtocol(measurement string, tags map[string]string, fields map[string]interface{}, t time.Time) string {
	var b strings.Builder

	// Measurement (escaped to prevent injection)
	b.WriteString(escapeMeasurement(measurement))

	// Tags (sorted for deterministic output and testability)
	tagKeys := make([]string, 0, len(tags))
	for k := range tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(tags[k]))
	}

	// Fields (sorted for deterministic output)
	fieldKeys := make([]string, 0, len(fields))
	for k := range fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	b.WriteByte(' ')
	first := true
	for _, k := range fieldKeys {
		v := fields[k]
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		switch val := v.(type) {
		case float64:
			b.WriteString(fmt.Sprintf("%g", val))
		case int:
			b.WriteString(fmt.Sprintf("%di", val))
		case int64:
			b.WriteString(fmt.Sprintf("%di", val))
		case bool:
			if val {
				b.WriteString("true")
			} else {
				b.WriteString("false")
			}
		case string:
			b.WriteString(fmt.Sprintf("%q", val))
		default:
			b.WriteString(fmt.Sprintf("%v", val))
		}
	}

	// Timestamp in nanoseconds
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%d", t.UnixNano()))

	return b.String()
}

// escapeTag escapes special characters in tag keys/values per line protocol spec.
// Commas, equals signs, and spaces must be backslash-escaped.
// Newlines are stripped to prevent line protocol injection.
func escapeTag(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	return s
}

// escapeMeasurement escapes special characters in measurement names.
// Newlines are stripped to prevent line protocol injection.
func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	return s
}
