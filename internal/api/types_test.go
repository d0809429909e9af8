package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"x402-sandbox/internal/sandbox"
)

func TestDuration_JSON(t *testing.T) {
	d := Duration{30 * time.Second}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"30s"` {
		t.Errorf("marshal = %s", b)
	}

	var parsed Duration
	if err := json.Unmarshal([]byte(`"1m30s"`), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Duration != 90*time.Second {
		t.Errorf("unmarshal = %s", parsed.Duration)
	}

	if err := json.Unmarshal([]byte(`"not a duration"`), &parsed); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestExecuteRequest_Validate(t *testing.T) {
	languages := []string{"javascript"}

	tests := []struct {
		name       string
		req        ExecuteRequest
		wantFields []string
	}{
		{
			"valid",
			ExecuteRequest{Code: "1", Language: "javascript", Tier: "basic"},
			nil,
		},
		{
			"missing code",
			ExecuteRequest{Language: "javascript", Tier: "basic"},
			[]string{"code"},
		},
		{
			"oversized code",
			ExecuteRequest{Code: strings.Repeat("x", sandbox.MaxCodeLength+1), Language: "javascript", Tier: "basic"},
			[]string{"code"},
		},
		{
			"unknown language",
			ExecuteRequest{Code: "1", Language: "cobol", Tier: "basic"},
			[]string{"language"},
		},
		{
			"unknown tier",
			ExecuteRequest{Code: "1", Language: "javascript", Tier: "platinum"},
			[]string{"tier"},
		},
		{
			"negative timeout",
			ExecuteRequest{Code: "1", Language: "javascript", Tier: "basic", Timeout: Duration{-time.Second}},
			[]string{"timeout"},
		},
		{
			"everything wrong at once",
			ExecuteRequest{},
			[]string{"code", "language", "tier"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.req.Validate(languages)
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("got %d errors %+v, want %d", len(errs), errs, len(tt.wantFields))
			}
			for i, f := range tt.wantFields {
				if errs[i].Field != f {
					t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, f)
				}
			}
		})
	}
}
