package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Ping sends the kawpowminer liveness probe and verifies the "pong"
// reply. Single attempt, no retry loop; the caller's polling cycle is
// the retry mechanism for liveness checks.
//
// Returns an error when the device is unreachable or answers with
// anything other than "pong".
func (c *Client) Ping(ctx context.Context) error {
	result, err := c.kawpowCall(ctx, "miner_ping")
	if err != nil {
		return err
	}
	if !bytes.Equal(bytes.TrimSpace(result), []byte(`"pong"`)) {
		return fmt.Errorf("%w: unexpected response to miner_ping: %s", ErrBadResponse, result)
	}
	return nil
}

// StatDetail fetches the kawpowminer detailed statistics block
// (miner_getstatdetail) and returns the raw "result" member for the
// caller to pick apart.
func (c *Client) StatDetail(ctx context.Context) (json.RawMessage, error) {
	return c.kawpowCall(ctx, "miner_getstatdetail")
}

// kawpowCall performs one request/response cycle outside the classic
// classifier: the KawPow dialect reports results under "result" with no
// status envelope or code table.
func (c *Client) kawpowCall(ctx context.Context, method string) (json.RawMessage, error) {
	if c.cfg.Dialect != DialectKawPow {
		return nil, fmt.Errorf("miner: %s requires the kawpow dialect, have %s", method, c.cfg.Dialect)
	}

	defer c.transport.Close()

	if !c.transport.IsConnected() {
		c.transport.Close()
		if err := c.transport.Open(ctx); err != nil {
			return nil, err
		}
	}

	env, err := c.exchange(Cmd(method), nil)
	if err != nil {
		return nil, err
	}

	result, ok := env["result"]
	if !ok {
		return nil, fmt.Errorf("%w: no result member in %s response", ErrBadResponse, method)
	}
	return result, nil
}
