// Package poller drives the periodic polling of configured miners and
// fans each result out to the telemetry outputs.
//
// Each cycle every miner is polled concurrently through its own
// miner.Client: classic cgminer rigs answer "summary", BOSminer rigs
// add the combined devs+temps+fans detail, KawPow rigs answer their
// JSON-RPC ping and statdetail methods. The outcome becomes a
// Snapshot, which goes to:
//
//   - the MQTT Publisher (retained telemetry, availability and device
//     detail topics)
//   - every configured MetricsSink (InfluxDB, VictoriaMetrics)
//   - the Recorder (SQLite poll history)
//
// All outputs are optional; a poller with none configured still polls
// and logs reachability transitions.
//
// Usage:
//
//	p, err := poller.New(poller.Config{
//		Site:          "shed-a",
//		Targets:       targets,
//		CycleInterval: 30 * time.Second,
//		Publisher:     mqttClient,
//		Sinks:         []poller.MetricsSink{influxClient},
//		Recorder:      repo,
//	})
//	if err != nil {
//		return err
//	}
//	p.Start(ctx)
//	defer p.Stop()
package poller
