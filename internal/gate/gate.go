// Package gate is the admission pipeline in front of the sandbox: it prices
// a request by tier, verifies the presented payment authorization, settles it
// through a facilitator, and only then lets the code run. Its outputs carry
// the settlement receipt and a result digest.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"x402-sandbox/internal/monitor"
	"x402-sandbox/internal/payment"
	"x402-sandbox/internal/proof"
	"x402-sandbox/internal/sandbox"
	"x402-sandbox/internal/settle"
	"x402-sandbox/internal/tier"
	"x402-sandbox/pkg/x402"
)

// PaymentVerifier checks an authorization and manages its nonce.
type PaymentVerifier interface {
	Verify(ctx context.Context, p *x402.PaymentPayload, required *big.Int) (*payment.Verified, error)
	Release(ctx context.Context, verified *payment.Verified) error
}

// Settler submits a verified authorization for on-chain settlement.
type Settler interface {
	Settle(ctx context.Context, payload *x402.PaymentPayload, reqs x402.PaymentRequirements) (*settle.Receipt, *x402.SettlementResponse, error)
}

// Executor runs admitted code.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) (*sandbox.Result, error)
}

// Config identifies this deployment to payers and to proof verifiers.
type Config struct {
	Network    string
	PayTo      string // payee address, checksummed hex
	Asset      string // settlement token contract, checksummed hex
	AssetName  string // EIP-712 domain name of the asset
	AssetV     string // EIP-712 domain version of the asset
	ExecutorID string // identity bound into proofs
}

// Gate wires verification, settlement, and execution into one pipeline.
type Gate struct {
	cfg      Config
	verifier PaymentVerifier
	settler  Settler
	executor Executor
	tracer   *monitor.Tracer
	now      func() time.Time
}

func New(cfg Config, verifier PaymentVerifier, settler Settler, executor Executor) *Gate {
	return &Gate{
		cfg:      cfg,
		verifier: verifier,
		settler:  settler,
		executor: executor,
		tracer:   monitor.NewTracer(),
		now:      time.Now,
	}
}

// Request is one paid execution request, already syntactically validated.
type Request struct {
	Code     string
	Language string
	Tier     tier.Tier
	Timeout  time.Duration
	Resource string // URL the payment was presented for
}

// Response is a fully settled and executed request.
type Response struct {
	Result     *sandbox.Result
	Proof      string
	Receipt    *settle.Receipt
	Settlement *x402.SettlementResponse
	Tier       tier.Tier
	Payer      string
	Timestamp  time.Time
}

// Requirements describes how to pay for one tier at the given resource.
func (g *Gate) Requirements(resource string, p tier.Profile) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           g.cfg.Network,
		MaxAmountRequired: big.NewInt(p.PriceAtomic).String(),
		Resource:          resource,
		Description:       fmt.Sprintf("%s tier code execution (%s, %dMB)", p.Tier, p.Timeout, p.MemoryMB),
		MimeType:          "application/json",
		PayTo:             g.cfg.PayTo,
		MaxTimeoutSeconds: int64(p.Timeout.Seconds()),
		Asset:             g.cfg.Asset,
		Extra:             &x402.Extra{Name: g.cfg.AssetName, Version: g.cfg.AssetV},
	}
}

// Challenge builds the 402 body listing every tier as an accepted payment.
func (g *Gate) Challenge(resource, reason string) *x402.PaymentRequiredResponse {
	all := tier.All()
	accepts := make([]x402.PaymentRequirements, 0, len(all))
	for _, p := range all {
		accepts = append(accepts, g.Requirements(resource, p))
	}
	return &x402.PaymentRequiredResponse{
		X402Version: x402.Version,
		Error:       reason,
		Accepts:     accepts,
	}
}

// Process runs the full pipeline: verify, settle, execute, prove. Payment
// rejections come back wrapping the payment package's sentinels; settlement
// failures wrap the settle package's, with the authorization's nonce released
// so the payer can retry. Once settlement succeeds the payment is spent and
// every execution outcome, including timeout, is returned with a receipt.
func (g *Gate) Process(ctx context.Context, req Request, p *x402.PaymentPayload) (*Response, error) {
	ctx, span := g.tracer.StartSpan(ctx, "process",
		monitor.AttrTier.String(string(req.Tier)),
		monitor.AttrNetwork.String(g.cfg.Network),
	)
	defer span.End()

	profile, err := tier.Get(req.Tier)
	if err != nil {
		return nil, err
	}
	reqs := g.Requirements(req.Resource, profile)

	verified, err := g.verifier.Verify(ctx, p, big.NewInt(profile.PriceAtomic))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(monitor.AttrPayer.String(verified.Payer.Hex()))

	receipt, settlement, err := g.settler.Settle(ctx, p, reqs)
	if err != nil {
		if relErr := g.verifier.Release(ctx, verified); relErr != nil {
			log.Error().Err(relErr).Str("payer", verified.Payer.Hex()).
				Msg("failed to release nonce after settlement failure")
		}
		return nil, err
	}

	// The payment is settled; a caller disconnect must not abort the run.
	result, err := g.executor.Execute(context.WithoutCancel(ctx), sandbox.Request{
		Code:     req.Code,
		Language: req.Language,
		Tier:     req.Tier,
		Timeout:  req.Timeout,
	})
	if err != nil {
		// The payment is already settled. The caller paid for an execution
		// the service could not start; surface it as a server fault.
		log.Error().Err(err).Str("payer", verified.Payer.Hex()).
			Msg("execution failed to start after settlement")
		return nil, fmt.Errorf("execution: %w", err)
	}

	span.SetAttributes(
		monitor.AttrExecID.String(result.ID),
		monitor.AttrState.String(string(result.State)),
		monitor.AttrDurationMS.Int64(result.Duration.Milliseconds()),
		monitor.AttrCodeHash.String(result.CodeHash),
	)

	now := g.now()
	digestOutput := result.Output
	if !result.Succeeded() {
		digestOutput = result.Error
	}
	digest := proof.Generate(proof.Inputs{
		ExecutionID: result.ID,
		Code:        req.Code,
		Output:      digestOutput,
		Elapsed:     result.Duration,
		Timestamp:   now,
		Network:     g.cfg.Network,
		Executor:    g.cfg.ExecutorID,
	})

	return &Response{
		Result:     result,
		Proof:      digest,
		Receipt:    receipt,
		Settlement: settlement,
		Tier:       req.Tier,
		Payer:      verified.Payer.Hex(),
		Timestamp:  now,
	}, nil
}

// IsPaymentRejection reports whether the error is a payer-side rejection
// rather than a service fault.
func IsPaymentRejection(err error) bool {
	return payment.IsRejection(err)
}

// IsSettlementFailure reports whether the error came from the facilitator.
func IsSettlementFailure(err error) bool {
	return errors.Is(err, settle.ErrSettlementUnavailable) ||
		errors.Is(err, settle.ErrSettlementDeclined)
}
