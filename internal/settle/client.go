// Package settle submits verified payment authorizations to a remote x402
// facilitator for on-chain settlement.
package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"x402-sandbox/pkg/x402"
)

// ErrSettlementUnavailable marks failures to reach the facilitator or to get
// a well-formed answer from it, as distinct from the facilitator declining
// the payment.
var ErrSettlementUnavailable = errors.New("settlement facilitator unavailable")

// ErrSettlementDeclined marks a facilitator answer that rejects the payment.
var ErrSettlementDeclined = errors.New("settlement declined")

// Receipt is the outcome of a successful settlement.
type Receipt struct {
	Payer   string `json:"payer"`
	Amount  string `json:"amount"`
	TxHash  string `json:"txHash"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
}

// Client talks to one facilitator. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the facilitator at baseURL. Timeout bounds
// each settle call end to end; values above 5 minutes are clamped.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 || timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type settleRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      *x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Settle submits the payload for the given requirements and returns a
// receipt on success. Network errors, non-2xx statuses, and unparseable
// bodies wrap ErrSettlementUnavailable; an explicit refusal wraps
// ErrSettlementDeclined.
func (c *Client) Settle(ctx context.Context, payload *x402.PaymentPayload, reqs x402.PaymentRequirements) (*Receipt, *x402.SettlementResponse, error) {
	body, err := json.Marshal(settleRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: reqs,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding settle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settle", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("building settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSettlementUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading response: %v", ErrSettlementUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("%w: status %d", ErrSettlementUnavailable, resp.StatusCode)
	}

	var sr x402.SettlementResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing response: %v", ErrSettlementUnavailable, err)
	}

	if !sr.Success {
		log.Warn().
			Str("reason", sr.ErrorReason).
			Dur("elapsed", time.Since(start)).
			Msg("facilitator declined settlement")
		return nil, &sr, fmt.Errorf("%w: %s", ErrSettlementDeclined, sr.ErrorReason)
	}

	amount := payload.Payload.Authorization.Value
	if _, ok := new(big.Int).SetString(amount, 10); !ok {
		amount = ""
	}

	log.Info().
		Str("tx", sr.Transaction).
		Str("payer", sr.Payer).
		Dur("elapsed", time.Since(start)).
		Msg("payment settled")

	return &Receipt{
		Payer:   sr.Payer,
		Amount:  amount,
		TxHash:  sr.Transaction,
		Network: sr.Network,
		Asset:   reqs.Asset,
	}, &sr, nil
}
