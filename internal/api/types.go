package api

import (
	"fmt"
	"time"
	"unicode/utf8"

	"x402-sandbox/internal/sandbox"
	"x402-sandbox/internal/tier"
)

// ExecuteRequest is the API-level request for one paid execution.
type ExecuteRequest struct {
	Code     string   `json:"code"`
	Language string   `json:"language"`
	Tier     string   `json:"tier"`
	Timeout  Duration `json:"timeout,omitempty"` // may only tighten the tier ceiling
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks every field and returns all violations at once, so a
// caller can fix the whole request in one round trip.
func (r *ExecuteRequest) Validate(languages []string) []FieldError {
	var errs []FieldError

	if r.Code == "" {
		errs = append(errs, FieldError{Field: "code", Message: "code is required"})
	} else if utf8.RuneCountInString(r.Code) > sandbox.MaxCodeLength {
		errs = append(errs, FieldError{
			Field:   "code",
			Message: fmt.Sprintf("code exceeds %d characters", sandbox.MaxCodeLength),
		})
	}

	if r.Language == "" {
		errs = append(errs, FieldError{Field: "language", Message: "language is required"})
	} else {
		known := false
		for _, l := range languages {
			if l == r.Language {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, FieldError{
				Field:   "language",
				Message: fmt.Sprintf("unsupported language %q", r.Language),
			})
		}
	}

	if r.Tier == "" {
		errs = append(errs, FieldError{Field: "tier", Message: "tier is required"})
	} else if _, err := tier.Parse(r.Tier); err != nil {
		errs = append(errs, FieldError{
			Field:   "tier",
			Message: fmt.Sprintf("unknown tier %q, expected one of %v", r.Tier, tier.Names()),
		})
	}

	if r.Timeout.Duration < 0 {
		errs = append(errs, FieldError{Field: "timeout", Message: "timeout must not be negative"})
	}

	return errs
}

// ExecuteResponse is the API-level result of a settled execution. Success
// reflects the guest outcome; the payment receipt and proof are present
// either way, since the payment is spent once settlement succeeds.
type ExecuteResponse struct {
	ID              string          `json:"id"`
	Success         bool            `json:"success"`
	Output          string          `json:"output"`
	Error           string          `json:"error,omitempty"`
	State           string          `json:"state"`
	Duration        string          `json:"duration"`
	MemoryPeakBytes uint64          `json:"memory_peak_bytes"`
	Tier            string          `json:"tier"`
	Proof           string          `json:"proof"`
	Payment         *PaymentReceipt `json:"payment"`
	Timestamp       time.Time       `json:"timestamp"`
}

// PaymentReceipt reports the on-chain settlement of a request's payment.
type PaymentReceipt struct {
	Payer   string `json:"payer"`
	Amount  string `json:"amount"`
	TxHash  string `json:"tx_hash"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
}

// TierInfo is one tier's pricing and limits as shown by discovery.
type TierInfo struct {
	Name        string   `json:"name"`
	PriceAtomic string   `json:"price_atomic"`
	Timeout     string   `json:"timeout"`
	MemoryMB    int64    `json:"memory_mb"`
	Features    []string `json:"features"`
}

// DiscoveryResponse describes the service to prospective payers.
type DiscoveryResponse struct {
	Service     string     `json:"service"`
	X402Version int        `json:"x402_version"`
	Network     string     `json:"network"`
	Asset       string     `json:"asset"`
	PayTo       string     `json:"pay_to"`
	Languages   []string   `json:"languages"`
	Tiers       []TierInfo `json:"tiers"`

	// SignedProofs is false: result proofs are plain digests bound to the
	// executor's claimed identity, not third-party verifiable signatures.
	SignedProofs bool `json:"signed_proofs"`
}

// NetworkPayee names the payee address and settlement asset for one
// supported network.
type NetworkPayee struct {
	Network string `json:"network"`
	PayTo   string `json:"pay_to"`
	Asset   string `json:"asset"`
}

// TrustIndicators states what the service does and does not guarantee about
// its results and payment handling.
type TrustIndicators struct {
	SignedProofs     bool   `json:"signed_proofs"`
	ProofAlgorithm   string `json:"proof_algorithm"`
	ReplayProtection bool   `json:"replay_protection"`
	Settlement       string `json:"settlement"`
}

// ComplianceFlags reports which protocol standards the service implements.
type ComplianceFlags struct {
	X402Version  int      `json:"x402_version"`
	Schemes      []string `json:"schemes"`
	EIP3009      bool     `json:"eip3009"`
	EIP712Domain bool     `json:"eip712_domain"`
}

// VerificationInfoResponse is the informational payload of GET /verify: who
// gets paid on which network, and which guarantees and standards the service
// claims. Contains no signing material.
type VerificationInfoResponse struct {
	Service    string          `json:"service"`
	Payees     []NetworkPayee  `json:"payees"`
	Trust      TrustIndicators `json:"trust"`
	Compliance ComplianceFlags `json:"compliance"`
}

// VerifyRequest carries a previously returned result for proof checking.
type VerifyRequest struct {
	Proof       string `json:"proof"`
	ExecutionID string `json:"execution_id"`
	Code        string `json:"code"`
	Output      string `json:"output"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	TimestampMS int64  `json:"timestamp_ms"`
	Network     string `json:"network"`
	Executor    string `json:"executor"`
}

// VerifyResponse reports whether the proof matches its claimed inputs.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// ErrorResponse is returned for API errors. Fields is set for validation
// failures and lists every violation.
type ErrorResponse struct {
	Error     string       `json:"error"`
	Code      string       `json:"code"`
	RequestID string       `json:"request_id"`
	Fields    []FieldError `json:"fields,omitempty"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status           string `json:"status"`
	ReplayStore      bool   `json:"replay_store"`
	ActiveExecutions int64  `json:"active_executions"`
	Uptime           string `json:"uptime"`
}
