package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"x402-sandbox/internal/gate"
	"x402-sandbox/internal/monitor"
	"x402-sandbox/internal/proof"
	"x402-sandbox/internal/tier"
	"x402-sandbox/pkg/x402"
)

// Gateway is the admission pipeline the handlers drive. Satisfied by
// *gate.Gate; narrowed to an interface so handler tests can stub it.
type Gateway interface {
	Challenge(resource, reason string) *x402.PaymentRequiredResponse
	Process(ctx context.Context, req gate.Request, p *x402.PaymentPayload) (*gate.Response, error)
}

type Handlers struct {
	gateway   Gateway
	metrics   *monitor.Metrics
	detector  *monitor.AbuseDetector
	languages []string
}

func NewHandlers(gateway Gateway, metrics *monitor.Metrics, languages []string) *Handlers {
	return &Handlers{
		gateway:   gateway,
		metrics:   metrics,
		detector:  monitor.NewAbuseDetector(metrics),
		languages: languages,
	}
}

// HandleExecute is the paid execution endpoint. Requests without payment
// evidence get a 402 challenge listing every tier; rejected payments get a
// 402 with the rejection reason; settlement trouble maps to 502. Once
// settled, every execution outcome returns 200 with a receipt.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if fieldErrs := req.Validate(h.languages); len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "invalid request",
			Code:      "VALIDATION_ERROR",
			RequestID: RequestIDFromContext(r.Context()),
			Fields:    fieldErrs,
		})
		return
	}

	h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))
	h.detector.AnalyzeCode(req.Code)

	resource := resourceURL(r)

	header := r.Header.Get(x402.PaymentHeader)
	if header == "" {
		h.metrics.ChallengesIssued.Inc()
		writeJSON(w, http.StatusPaymentRequired, h.gateway.Challenge(resource, "payment required"))
		return
	}

	payload, err := x402.DecodePaymentHeader(header)
	if err != nil {
		h.metrics.RecordRejection("malformed_header")
		writeJSON(w, http.StatusPaymentRequired, h.gateway.Challenge(resource, err.Error()))
		return
	}

	h.metrics.ActiveExecutions.Inc()
	defer h.metrics.ActiveExecutions.Dec()

	resp, err := h.gateway.Process(r.Context(), gate.Request{
		Code:     req.Code,
		Language: req.Language,
		Tier:     tier.Tier(req.Tier),
		Timeout:  req.Timeout.Duration,
		Resource: resource,
	}, payload)
	if err != nil {
		switch {
		case gate.IsPaymentRejection(err):
			h.metrics.RecordRejection("verification")
			writeJSON(w, http.StatusPaymentRequired, h.gateway.Challenge(resource, err.Error()))
		case gate.IsSettlementFailure(err):
			h.metrics.RecordSettlement("failed")
			writeError(w, "payment settlement failed: "+err.Error(), "SETTLEMENT_FAILED", http.StatusBadGateway, r)
		default:
			log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("execution pipeline failed")
			writeError(w, "execution failed", "EXECUTION_FAILED", http.StatusInternalServerError, r)
		}
		return
	}

	h.metrics.PaymentsVerified.Inc()
	h.metrics.RecordSettlement("settled")
	if p, err := tier.Get(resp.Tier); err == nil {
		h.metrics.RevenueAtomic.WithLabelValues(string(resp.Tier)).Add(float64(p.PriceAtomic))
	}
	result := resp.Result
	h.metrics.RecordExecution(string(resp.Tier), string(result.State), result.Duration.Seconds())
	h.metrics.OutputSizeBytes.Observe(float64(len(result.Output)))
	h.metrics.MemoryPeakBytes.Observe(float64(result.MemoryPeakBytes))

	if receiptHeader, err := x402.EncodeReceiptHeader(resp.Settlement); err == nil {
		w.Header().Set(x402.PaymentResponseHeader, receiptHeader)
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{
		ID:              result.ID,
		Success:         result.Succeeded(),
		Output:          result.Output,
		Error:           result.Error,
		State:           string(result.State),
		Duration:        result.Duration.String(),
		MemoryPeakBytes: result.MemoryPeakBytes,
		Tier:            string(resp.Tier),
		Proof:           resp.Proof,
		Payment: &PaymentReceipt{
			Payer:   resp.Receipt.Payer,
			Amount:  resp.Receipt.Amount,
			TxHash:  resp.Receipt.TxHash,
			Network: resp.Receipt.Network,
			Asset:   resp.Receipt.Asset,
		},
		Timestamp: resp.Timestamp,
	})
}

// HandleDiscovery advertises tiers, prices, and payment parameters so
// callers can construct a valid authorization without a prior 402.
func (h *Handlers) HandleDiscovery(network, asset, payTo string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tiers := make([]TierInfo, 0, len(tier.All()))
		for _, p := range tier.All() {
			tiers = append(tiers, TierInfo{
				Name:        string(p.Tier),
				PriceAtomic: strconv.FormatInt(p.PriceAtomic, 10),
				Timeout:     p.Timeout.String(),
				MemoryMB:    p.MemoryMB,
				Features:    p.Features,
			})
		}
		writeJSON(w, http.StatusOK, DiscoveryResponse{
			Service:      "x402-sandbox",
			X402Version:  x402.Version,
			Network:      network,
			Asset:        asset,
			PayTo:        payTo,
			Languages:    h.languages,
			Tiers:        tiers,
			SignedProofs: false,
		})
	}
}

// HandleVerificationInfo reports payee addresses per supported network,
// trust indicators, and protocol-compliance flags. Informational only; no
// payment required.
func (h *Handlers) HandleVerificationInfo(network, asset, payTo string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, VerificationInfoResponse{
			Service: "x402-sandbox",
			Payees: []NetworkPayee{
				{Network: network, PayTo: payTo, Asset: asset},
			},
			Trust: TrustIndicators{
				SignedProofs:     false,
				ProofAlgorithm:   "sha256",
				ReplayProtection: true,
				Settlement:       "remote-facilitator",
			},
			Compliance: ComplianceFlags{
				X402Version:  x402.Version,
				Schemes:      []string{x402.SchemeExact},
				EIP3009:      true,
				EIP712Domain: true,
			},
		})
	}
}

// HandleVerifyProof recomputes a result digest from caller-supplied inputs.
func (h *Handlers) HandleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Proof == "" {
		writeError(w, "proof is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	valid := proof.Verify(req.Proof, proof.Inputs{
		ExecutionID: req.ExecutionID,
		Code:        req.Code,
		Output:      req.Output,
		Elapsed:     time.Duration(req.ElapsedMS) * time.Millisecond,
		Timestamp:   time.UnixMilli(req.TimestampMS),
		Network:     req.Network,
		Executor:    req.Executor,
	})
	writeJSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}

// resourceURL reconstructs the URL payment was presented for.
func resourceURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
