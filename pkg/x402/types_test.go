package x402

import (
	"encoding/base64"
	"testing"
)

func TestDecodePaymentHeader(t *testing.T) {
	p := &PaymentPayload{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     "base-sepolia",
		Payload: ExactEVMPayload{
			Signature: "0xabc",
			Authorization: ExactEVMAuthorization{
				From:        "0x1111111111111111111111111111111111111111",
				To:          "0x2222222222222222222222222222222222222222",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "1999999999",
				Nonce:       "0x" + "00" + "11223344556677889900112233445566778899001122334455667788990011",
			},
		},
	}

	header, err := p.EncodePaymentHeader()
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Scheme != SchemeExact {
		t.Errorf("Scheme = %q, want %q", decoded.Scheme, SchemeExact)
	}
	if decoded.Payload.Authorization.Value != "10000" {
		t.Errorf("Value = %q, want %q", decoded.Payload.Authorization.Value, "10000")
	}
}

func TestDecodePaymentHeader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"wrong version", base64.StdEncoding.EncodeToString([]byte(`{"x402Version":99}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePaymentHeader(tt.value); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
