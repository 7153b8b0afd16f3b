// Package miner implements the line-oriented, JSON-framed TCP API
// spoken by the cgminer family of mining devices, including the
// BOSminer (Braiins OS) and kawpowminer variants.
//
// # Protocol
//
// Requests are a single newline-terminated JSON line; responses are a
// raw JSON blob with an optional trailing NUL and no length prefix.
// The end of a response is inferred from the device going quiet, which
// makes framing a timeout heuristic rather than a guarantee (see
// Framer). Each TCP connection carries exactly one request/response
// exchange; the device ignores or drops further requests, so every
// retry reopens the connection.
//
// # Usage
//
//	ep, _ := miner.ParseEndpoint("10.0.0.5:4028")
//	client := miner.NewClient(miner.Config{Endpoint: ep, Dialect: miner.DialectBOSminer})
//	summary, err := client.Execute(ctx, "summary", nil)
//
// Combined commands fan out into one classified result per token:
//
//	results, err := client.ExecuteCombined(ctx, []string{"summary", "stats"}, nil)
//
// Device errors carry a retry classification (*MinerError); the
// executor retries short/long kinds with linear backoff inside a
// configurable time budget and surfaces everything else untouched.
package miner
