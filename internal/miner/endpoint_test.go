package miner

import (
	"errors"
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{
			name:     "hostname with port",
			spec:     "miner-01.local:4028",
			wantHost: "miner-01.local",
			wantPort: 4028,
		},
		{
			name:     "IPv4 with port",
			spec:     "192.168.1.50:4028",
			wantHost: "192.168.1.50",
			wantPort: 4028,
		},
		{
			name:     "bracketed IPv6 with port",
			spec:     "[fe80::1]:4028",
			wantHost: "fe80::1",
			wantPort: 4028,
		},
		{
			name:    "missing port",
			spec:    "192.168.1.50",
			wantErr: true,
		},
		{
			name:    "empty host",
			spec:    ":4028",
			wantErr: true,
		},
		{
			name:    "port zero",
			spec:    "miner:0",
			wantErr: true,
		},
		{
			name:    "port out of range",
			spec:    "miner:70000",
			wantErr: true,
		},
		{
			name:    "non-numeric port",
			spec:    "miner:api",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseEndpoint(tt.spec)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEndpoint(%q) expected error, got %+v", tt.spec, ep)
				}
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Errorf("error = %v, want ErrInvalidEndpoint", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseEndpoint(%q) unexpected error: %v", tt.spec, err)
			}
			if ep.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", ep.Host, tt.wantHost)
			}
			if ep.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", ep.Port, tt.wantPort)
			}
		})
	}
}

func TestNewEndpoint(t *testing.T) {
	if _, err := NewEndpoint("miner", 0); err == nil {
		t.Error("NewEndpoint with port 0 expected error")
	}
	if _, err := NewEndpoint("", 4028); err == nil {
		t.Error("NewEndpoint with empty host expected error")
	}

	ep, err := NewEndpoint("miner", 4028)
	if err != nil {
		t.Fatalf("NewEndpoint() unexpected error: %v", err)
	}
	if got := ep.Addr(); got != "miner:4028" {
		t.Errorf("Addr() = %q, want %q", got, "miner:4028")
	}
}

func TestEndpointAddrBracketsIPv6(t *testing.T) {
	ep, err := NewEndpoint("fe80::1", 4028)
	if err != nil {
		t.Fatalf("NewEndpoint() unexpected error: %v", err)
	}
	if got := ep.Addr(); got != "[fe80::1]:4028" {
		t.Errorf("Addr() = %q, want %q", got, "[fe80::1]:4028")
	}
	if got := ep.network(); got != "tcp6" {
		t.Errorf("network() = %q, want tcp6", got)
	}
}

func TestEndpointNetworkIPv4(t *testing.T) {
	ep, err := NewEndpoint("192.168.1.50", 4028)
	if err != nil {
		t.Fatalf("NewEndpoint() unexpected error: %v", err)
	}
	if got := ep.network(); got != "tcp4" {
		t.Errorf("network() = %q, want tcp4", got)
	}
}
