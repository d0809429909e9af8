package monitor

import (
	"testing"
)

func TestAnalyzeCode(t *testing.T) {
	d := NewAbuseDetector(nil)

	tests := []struct {
		name         string
		code         string
		wantMinCount int // minimum number of detections
		wantPattern  string
	}{
		{"constructor chain", `""["constructor"]["constructor"]("return this")()`, 1, "constructor_escape"},
		{"dotted constructor chain", `x.constructor.constructor("return 1")`, 1, "constructor_escape"},
		{"eval", `eval("1 + 1")`, 1, "dynamic_eval"},
		{"function constructor", `var f = new Function("return 2")`, 1, "dynamic_eval"},
		{"proto pollution", `obj.__proto__.polluted = true`, 1, "prototype_pollution"},
		{"set prototype", `Object.setPrototypeOf(a, b)`, 1, "prototype_pollution"},
		{"global probe", `typeof globalThis`, 1, "global_probe"},
		{"process env", `process.env.SECRET`, 1, "global_probe"},
		{"require", `var fs = require("fs")`, 1, "global_probe"},
		{"miner", `connect("stratum+tcp://pool.example.com")`, 1, "crypto_miner"},
		{"allocation bomb", `var a = new Array(1e9)`, 1, "allocation_bomb"},
		{"clean code", `console.log("hello world")`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets := d.AnalyzeCode(tt.code)
			if len(dets) < tt.wantMinCount {
				t.Errorf("got %d detections, want >= %d", len(dets), tt.wantMinCount)
				return
			}
			if tt.wantPattern != "" {
				found := false
				for _, det := range dets {
					if det.Pattern == tt.wantPattern {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("pattern %q not found in detections: %v", tt.wantPattern, dets)
				}
			}
		})
	}
}

func TestAnalyzeCode_ReportsLine(t *testing.T) {
	d := NewAbuseDetector(nil)
	dets := d.AnalyzeCode("var x = 1;\neval(\"x\");\n")
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	if dets[0].Line != 2 {
		t.Errorf("Line = %d, want 2", dets[0].Line)
	}
}

func TestAnalyzeCode_RecordsMetrics(t *testing.T) {
	m := NewMetrics()
	d := NewAbuseDetector(m)

	d.AnalyzeCode(`eval("1")`)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "x402sandbox_suspicious_code_total" {
			found = true
		}
	}
	if !found {
		t.Error("suspicious_code_total not gathered after detection")
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityLow, "low"},
		{SeverityMedium, "medium"},
		{SeverityHigh, "high"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.sev.String(); got != tt.want {
				t.Errorf("Severity(%d).String() = %q, want %q", tt.sev, got, tt.want)
			}
		})
	}
}
