package miner

import (
	"encoding/json"
	"testing"
)

func TestClassicEncoderNoParam(t *testing.T) {
	// Exact wire bytes matter here: one JSON object, one newline.
	got, err := ClassicEncoder{}.Encode(Cmd("summary"), nil)
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	want := `{"command":"summary"}` + "\n"
	if string(got) != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestClassicEncoderParamKeys(t *testing.T) {
	tests := []struct {
		name     string
		param    any
		wantKey  string
		skipKey  string
	}{
		{
			name:    "string param under singular key",
			param:   "0",
			wantKey: "param",
			skipKey: "params",
		},
		{
			name:    "sequence param under plural key",
			param:   []int{0, 1},
			wantKey: "params",
			skipKey: "param",
		},
		{
			name:    "structured param under plural key",
			param:   map[string]int{"pool": 1},
			wantKey: "params",
			skipKey: "param",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := ClassicEncoder{}.Encode(Cmd("switchpool"), tt.param)
			if err != nil {
				t.Fatalf("Encode() unexpected error: %v", err)
			}

			var req map[string]any
			if err := json.Unmarshal(raw, &req); err != nil {
				t.Fatalf("request is not valid JSON: %v", err)
			}
			if req["command"] != "switchpool" {
				t.Errorf("command = %v, want switchpool", req["command"])
			}
			if _, ok := req[tt.wantKey]; !ok {
				t.Errorf("expected key %q missing: %s", tt.wantKey, raw)
			}
			if _, ok := req[tt.skipKey]; ok {
				t.Errorf("unexpected key %q present: %s", tt.skipKey, raw)
			}
		})
	}
}

func TestClassicEncoderCombined(t *testing.T) {
	raw, err := ClassicEncoder{}.Encode(Combined("summary", "stats"), nil)
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	want := `{"command":"summary+stats"}` + "\n"
	if string(raw) != want {
		t.Errorf("Encode() = %q, want %q", raw, want)
	}
}

func TestKawPowEncoderEnvelope(t *testing.T) {
	raw, err := KawPowEncoder{}.Encode(Cmd("miner_ping"), nil)
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	if raw[len(raw)-1] != '\n' {
		t.Fatalf("request not newline-terminated: %q", raw)
	}

	var req map[string]any
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("request is not valid JSON: %v", err)
	}
	if req["method"] != "miner_ping" {
		t.Errorf("method = %v, want miner_ping", req["method"])
	}
	if req["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", req["jsonrpc"])
	}
	if id, ok := req["id"].(float64); !ok || id != 0 {
		t.Errorf("id = %v, want 0", req["id"])
	}
	if _, ok := req["param"]; ok {
		t.Errorf("param present without a parameter: %s", raw)
	}
}

func TestKawPowEncoderStringParam(t *testing.T) {
	raw, err := KawPowEncoder{}.Encode(Cmd("miner_setpool"), "stratum://pool:3333")
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("request is not valid JSON: %v", err)
	}
	if req["param"] != "stratum://pool:3333" {
		t.Errorf("param = %v, want pool url", req["param"])
	}
}

func TestCommandTokens(t *testing.T) {
	c := Combined("devs", "temps", "fans")
	if got := c.Wire(); got != "devs+temps+fans" {
		t.Errorf("Wire() = %q, want devs+temps+fans", got)
	}
	if !c.IsCombined() {
		t.Error("IsCombined() = false, want true")
	}
	if got := len(c.Tokens()); got != 3 {
		t.Errorf("len(Tokens()) = %d, want 3", got)
	}

	single := Cmd("summary")
	if single.IsCombined() {
		t.Error("IsCombined() = true for single command")
	}
	if got := single.Wire(); got != "summary" {
		t.Errorf("Wire() = %q, want summary", got)
	}
}
