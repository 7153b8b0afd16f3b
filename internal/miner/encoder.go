package miner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command is a logical request: a single token ("summary") or an
// ordered set of tokens merged into one wire request ("summary+stats").
type Command struct {
	tokens []string
}

// Cmd builds a single-token command.
func Cmd(token string) Command {
	return Command{tokens: []string{token}}
}

// Combined builds a merged command from multiple tokens. The device
// answers with one sub-response per token, keyed by the token.
func Combined(tokens ...string) Command {
	return Command{tokens: tokens}
}

// Wire returns the token string as sent on the wire.
func (c Command) Wire() string {
	return strings.Join(c.tokens, "+")
}

// IsCombined reports whether this command fans out into sub-responses.
func (c Command) IsCombined() bool {
	return len(c.tokens) > 1
}

// Tokens returns the expected sub-response keys.
func (c Command) Tokens() []string {
	return c.tokens
}

// Encoder builds the wire request for one protocol dialect.
//
// Both known dialects share the parameter convention: a plain string
// travels under the singular "param" key, anything else (sequences,
// structured values) under "params". A nil param is omitted entirely.
type Encoder interface {
	// Encode serializes the command and optional parameter to a
	// newline-terminated JSON request.
	Encode(command Command, param any) ([]byte, error)
}

// ClassicEncoder produces the classic cgminer/BOSminer envelope:
//
//	{"command":"summary+stats","param":"..."}
type ClassicEncoder struct{}

// Encode implements Encoder.
func (ClassicEncoder) Encode(command Command, param any) ([]byte, error) {
	req := map[string]any{"command": command.Wire()}
	addParam(req, param)
	return marshalRequest(req)
}

// KawPowEncoder produces the JSON-RPC-like envelope used by kawpowminer:
//
//	{"id":0,"jsonrpc":"2.0","method":"miner_ping","param":"..."}
type KawPowEncoder struct{}

// Encode implements Encoder.
func (KawPowEncoder) Encode(command Command, param any) ([]byte, error) {
	req := map[string]any{
		"id":      0,
		"jsonrpc": "2.0",
		"method":  command.Wire(),
	}
	addParam(req, param)
	return marshalRequest(req)
}

// addParam places the parameter under the dialect-independent key:
// singular for plain strings, plural otherwise, absent for nil.
func addParam(req map[string]any, param any) {
	switch p := param.(type) {
	case nil:
	case string:
		req["param"] = p
	default:
		req["params"] = param
	}
}

// marshalRequest serializes the request object and appends the newline
// terminator the protocol requires.
func marshalRequest(req map[string]any) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("miner: encoding request: %w", err)
	}
	return append(b, '\n'), nil
}
