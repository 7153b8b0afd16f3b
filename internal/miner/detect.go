package miner

import (
	"context"
	"encoding/json"
)

// DetectDialect probes the device with a single "version" command and
// inspects the reported version block for dialect markers.
//
// Detection is best-effort by design: one attempt, no retry loop, and
// any shape mismatch (missing keys, wrong types, no response) yields
// DialectUnknown rather than an error. Callers decide what Unknown
// means for them; generic cgminer handling is the usual fallback.
//
// The connection is closed afterwards either way, since the device
// will not answer a second command on it.
func (c *Client) DetectDialect(ctx context.Context) Dialect {
	defer c.transport.Close()

	if !c.transport.IsConnected() {
		c.transport.Close()
		if err := c.transport.Open(ctx); err != nil {
			c.logDebug("dialect probe could not connect", "error", err)
			return DialectUnknown
		}
	}

	env, err := c.exchange(Cmd("version"), nil)
	if err != nil {
		c.logDebug("dialect probe got no usable response", "error", err)
		return DialectUnknown
	}

	raw, ok := env["VERSION"]
	if !ok {
		return DialectUnknown
	}

	var blocks []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil || len(blocks) == 0 {
		return DialectUnknown
	}

	// BOSminer reports a "BOSer" entry, stock cgminer a "CGMiner" one.
	block := blocks[0]
	if _, ok := block["BOSer"]; ok {
		return DialectBOSminer
	}
	if _, ok := block["CGMiner"]; ok {
		return DialectCGMiner
	}
	return DialectUnknown
}
