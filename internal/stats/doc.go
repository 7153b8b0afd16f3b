// Package stats decodes and restructures the payloads the miner
// protocol client returns: summary extraction, the Avalon-style
// "MM IDn" flattening, and the BOSminer per-device blocks joined by
// board ID. It owns no I/O beyond the combined device-info fetch.
package stats
