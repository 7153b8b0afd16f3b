package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMinerSummary writes a miner's summary reading to InfluxDB.
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
//	    "rejected": int64(3),
//	})
func (c *Client) WriteMinerSummary(miner string, labels map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{"miner": miner}
	for k, v := range labels {
		tags[k] = v
	}

	point := write.NewPoint("miner_summary", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
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
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
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
	)

	c.writeAPI.WritePoint(point)
}

// WriteFanMetric writes a fan speed measurement.
//
// Parameters:
//   - miner: Miner name
//   - fanID: Fan index as reported by the miner
//   - rpm: Measured speed in RPM
func (c *Client) WriteFanMetric(miner string, fanID int, rpm int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"miner_fan",
		map[string]string{
			"miner": miner,
		},
		map[string]interface{}{
			"fan": fanID,
			"rpm": rpm,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailability records whether a miner answered its poll.
//
// Parameters:
//   - miner: Miner name
//   - up: true if the poll succeeded
func (c *Client) WriteAvailability(miner string, up bool) {
	if !c.IsConnected() {
		return
	}

	value := 0
	if up {
		value = 1
	}

	point := write.NewPoint(
		"miner_up",
		map[string]string{
			"miner": miner,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
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
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
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
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
