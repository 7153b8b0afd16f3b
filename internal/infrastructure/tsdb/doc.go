// Package tsdb provides time-series database connectivity for Minerwatch Core.
//
// It writes to VictoriaMetrics using InfluxDB line protocol over HTTP.
// A write-only sink: dashboards query VictoriaMetrics directly.
//
// # Purpose
//
// An alternative metrics sink for sites running VictoriaMetrics instead
// of (or alongside) InfluxDB. Stores:
//   - Miner hashrate and share counters
//   - Hashboard temperatures and fan speeds
//   - Miner availability over time
//
// # Usage
//
//	cfg := config.TSDBConfig{
//	    Enabled:       true,
//	    URL:           "http://localhost:8428",
//	    BatchSize:     1000,
//	    FlushInterval: 1,
//	}
//
//	client, err := tsdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Write a summary reading
//	client.WriteMinerSummary("avalon-01", nil, map[string]interface{}{
//	    "mhs_av": 81350.2,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are batched internally and flushed on size threshold or timer.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// Batch flush is a single HTTP POST with newline-delimited line protocol.
// VictoriaMetrics processes these with minimal overhead.
package tsdb
