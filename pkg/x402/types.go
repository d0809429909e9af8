// Package x402 holds the wire types of the x402 payment protocol as used by
// this service: the payment-requirement challenge returned with a 402 status,
// the payment payload carried in the X-Payment request header, and the
// settlement response returned by a facilitator.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Version is the protocol version this service speaks.
const Version = 1

// SchemeExact is the only supported payment scheme: a signed EIP-3009
// transferWithAuthorization for an exact amount.
const SchemeExact = "exact"

// HTTP header names for payment evidence and settlement receipts.
const (
	PaymentHeader         = "X-Payment"
	PaymentResponseHeader = "X-Payment-Response"
)

// PaymentRequirements describes one way a resource can be paid for.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"` // asset's smallest unit, decimal string
	Resource          string `json:"resource"`
	Description       string `json:"description,omitempty"`
	MimeType          string `json:"mimeType,omitempty"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int64  `json:"maxTimeoutSeconds"`
	Asset             string `json:"asset"` // token contract address
	Extra             *Extra `json:"extra,omitempty"`
}

// Extra carries the asset's EIP-712 domain parameters so wallets can sign
// the authorization without a chain lookup.
type Extra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PaymentRequiredResponse is the body of a 402 response.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the decoded X-Payment header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEVMPayload `json:"payload"`
}

// ExactEVMPayload is the scheme-specific payload for "exact" on EVM chains.
// Asset is optional: when present it names the token contract the
// authorization was signed for, letting the server reject a token mismatch
// before signature recovery.
type ExactEVMPayload struct {
	Signature     string                `json:"signature"` // 65-byte hex, 0x-prefixed
	Authorization ExactEVMAuthorization `json:"authorization"`
	Asset         string                `json:"asset,omitempty"`
}

// ExactEVMAuthorization mirrors the EIP-3009 TransferWithAuthorization
// struct. Numeric fields are decimal strings; nonce is 32 bytes of hex.
type ExactEVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SettlementResponse is returned by a facilitator's /settle endpoint.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// DecodePaymentHeader parses the base64-encoded JSON payment payload from an
// X-Payment header value.
func DecodePaymentHeader(value string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decoding payment header: %w", err)
	}

	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing payment header: %w", err)
	}
	if p.X402Version != Version {
		return nil, fmt.Errorf("unsupported x402 version %d", p.X402Version)
	}
	return &p, nil
}

// EncodePaymentHeader renders the payload as an X-Payment header value.
func (p *PaymentPayload) EncodePaymentHeader() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeReceiptHeader renders a settlement response for the
// X-Payment-Response header.
func EncodeReceiptHeader(r *SettlementResponse) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding settlement response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
