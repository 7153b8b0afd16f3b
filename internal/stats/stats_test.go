package stats

import (
	"encoding/json"
	"testing"
)

func TestParseSummary(t *testing.T) {
	raw := json.RawMessage(`{
		"Elapsed": 7265,
		"MHS av": 93412.7,
		"MHS 5s": 91002.1,
		"MHS 1m": 92881.0,
		"Accepted": 1412,
		"Rejected": 9,
		"Pool Rejected%": 0.63
	}`)

	s, err := ParseSummary(raw)
	if err != nil {
		t.Fatalf("ParseSummary() unexpected error: %v", err)
	}

	if s.Elapsed != 7265 {
		t.Errorf("Elapsed = %d, want 7265", s.Elapsed)
	}
	if s.Accepted != 1412 || s.Rejected != 9 {
		t.Errorf("shares = %d/%d, want 1412/9", s.Accepted, s.Rejected)
	}
	if s.MHSAv != 93412.7 {
		t.Errorf("MHSAv = %v, want 93412.7", s.MHSAv)
	}
	if len(s.Rates) != 3 {
		t.Errorf("len(Rates) = %d, want 3 (av, 5s, 1m)", len(s.Rates))
	}
	if s.Rates["MHS 5s"] != 91002.1 {
		t.Errorf("Rates[MHS 5s] = %v, want 91002.1", s.Rates["MHS 5s"])
	}
}

func TestParseSummaryBadJSON(t *testing.T) {
	if _, err := ParseSummary(json.RawMessage(`[1,2]`)); err == nil {
		t.Error("ParseSummary() of non-object expected error")
	}
}

func TestRestructureMM(t *testing.T) {
	raw := json.RawMessage(`[
		{
			"MM Count": 2,
			"MM ID1": "Ver[AVA10-20] DNA[0134abcd5678ef90] Fan[4080] GHSmm[37.2] GHS5m[36.8] Temp[31] Temp0[68] Temp1[71]",
			"MM ID2": "Ver[AVA10-20] DNA[0134abcd5678 efa1] Fan[3900] GHSmm[36.5] GHS5m[36.1] Temp[30] Temp0[66] Temp1[69]"
		},
		{"STATS": 1, "ID": "POOL0"}
	]`)

	mms, err := RestructureMM(raw)
	if err != nil {
		t.Fatalf("RestructureMM() unexpected error: %v", err)
	}
	if len(mms) != 2 {
		t.Fatalf("len = %d, want 2", len(mms))
	}

	if got := mms[0].DNA(); got != "0134abcd5678ef90" {
		t.Errorf("DNA = %q, want 0134abcd5678ef90", got)
	}
	fan, err := mms[0].Int("Fan")
	if err != nil || fan != 4080 {
		t.Errorf("Fan = %d (%v), want 4080", fan, err)
	}
	ghs, err := mms[1].Float("GHS5m")
	if err != nil || ghs != 36.1 {
		t.Errorf("GHS5m = %v (%v), want 36.1", ghs, err)
	}

	if _, err := mms[0].Float("Nope"); err == nil {
		t.Error("Float() of missing key expected error")
	}
	if _, err := mms[0].Int("Ver"); err == nil {
		t.Error("Int() of non-numeric value expected error")
	}
}

func TestRestructureMMShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty block", raw: `[]`},
		{name: "missing MM Count", raw: `[{"ID": "AVA10"}]`},
		{name: "missing MM ID entry", raw: `[{"MM Count": 2, "MM ID1": "DNA[ab]"}]`},
		{name: "non-string MM ID", raw: `[{"MM Count": 1, "MM ID1": 42}]`},
		{name: "not a sequence", raw: `{"MM Count": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RestructureMM(json.RawMessage(tt.raw)); err == nil {
				t.Error("RestructureMM() expected error")
			}
		})
	}
}

func TestScaleHashrate(t *testing.T) {
	tests := []struct {
		mhs      float64
		wantUnit string
	}{
		{mhs: 900, wantUnit: "MH/s"},
		{mhs: 1100, wantUnit: "MH/s"},
		{mhs: 90000, wantUnit: "GH/s"},
		{mhs: 1200000, wantUnit: "GH/s"},
		{mhs: 90000000, wantUnit: "TH/s"},
	}

	for _, tt := range tests {
		value, unit := ScaleHashrate(tt.mhs)
		if unit != tt.wantUnit {
			t.Errorf("ScaleHashrate(%v) unit = %q, want %q", tt.mhs, unit, tt.wantUnit)
			continue
		}
		// The scaled value must round-trip back to MH/s.
		scale := 1.0
		switch unit {
		case "GH/s":
			scale = 1024.0
		case "TH/s":
			scale = 1024.0 * 1024.0
		}
		if got := value * scale; got != tt.mhs {
			t.Errorf("ScaleHashrate(%v) = %v %s, does not round-trip", tt.mhs, value, unit)
		}
	}
}

func TestDeviceInfoJoin(t *testing.T) {
	info := &DeviceInfo{
		Devs: []Device{
			{ID: 0, NominalMHS: 13500000, MHS1m: 13210000},
			{ID: 1, NominalMHS: 13500000, MHS1m: 13480000},
		},
		Temps: []Temperature{
			{ID: 1, Board: 58.5, Chip: 74.0},
		},
		Fans: []Fan{
			{ID: 0, RPM: 4200, Speed: 70},
			{ID: 1, RPM: 0, Speed: 0},
			{ID: 2, RPM: 3600, Speed: 55},
		},
	}

	if _, ok := info.TempByID(0); ok {
		t.Error("TempByID(0) found a reading, want none")
	}
	temp, ok := info.TempByID(1)
	if !ok || temp.Chip != 74.0 {
		t.Errorf("TempByID(1) = %+v/%v, want Chip 74.0", temp, ok)
	}

	// Stopped fans (RPM 0) do not count toward the maximum.
	if got := info.MaxFanSpeed(); got != 70 {
		t.Errorf("MaxFanSpeed() = %d, want 70", got)
	}
}
