// Package payment validates signed EIP-3009 transfer authorizations carried
// in the x402 X-Payment header: recipient, asset, amount, validity window,
// replay protection, and signature recovery.
package payment

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog/log"

	"x402-sandbox/pkg/x402"
)

// Config holds the verifier's immutable expectations, taken from service
// configuration at startup.
type Config struct {
	PayTo         common.Address // our payee address
	Asset         common.Address // settlement token contract
	Network       string
	ChainID       int64
	DomainName    string // asset's EIP-712 domain name, e.g. "USDC"
	DomainVersion string // asset's EIP-712 domain version, e.g. "2"
	ClockSkew     time.Duration
}

// Verifier checks payment authorizations against the configured payee,
// asset, and network. Safe for concurrent use.
type Verifier struct {
	cfg    Config
	replay ReplayStore
	now    func() time.Time
}

// Verified is a successfully checked authorization whose nonce has been
// consumed. It must be released if settlement subsequently fails.
type Verified struct {
	Payer   common.Address
	Amount  *big.Int
	Nonce   string
	Payload *x402.PaymentPayload
}

func NewVerifier(cfg Config, replay ReplayStore) *Verifier {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	return &Verifier{cfg: cfg, replay: replay, now: time.Now}
}

// Verify runs every admission check in order, short-circuiting on the first
// failure. On success the authorization's nonce has already been consumed:
// the atomic insert-if-absent happens here, before any execution work, so
// two concurrent requests presenting the same authorization cannot both be
// admitted.
func (v *Verifier) Verify(ctx context.Context, p *x402.PaymentPayload, required *big.Int) (*Verified, error) {
	// 1. Scheme and network.
	if p.Scheme != x402.SchemeExact {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, p.Scheme)
	}
	if p.Network != v.cfg.Network {
		return nil, fmt.Errorf("%w: network %q (want %q)", ErrUnsupportedScheme, p.Network, v.cfg.Network)
	}

	auth := p.Payload.Authorization

	// 2. Recipient.
	if !common.IsHexAddress(auth.To) || !common.IsHexAddress(auth.From) {
		return nil, fmt.Errorf("%w: bad address", ErrMalformedPayment)
	}
	payer := common.HexToAddress(auth.From)
	if common.HexToAddress(auth.To) != v.cfg.PayTo {
		return nil, fmt.Errorf("%w: paid to %s", ErrRecipientMismatch, auth.To)
	}

	// 3. Asset, when the payload names one. An omitted asset is still bound
	// to the configured token by the EIP-712 domain in step 7.
	if p.Payload.Asset != "" {
		if !common.IsHexAddress(p.Payload.Asset) || common.HexToAddress(p.Payload.Asset) != v.cfg.Asset {
			return nil, fmt.Errorf("%w: %s", ErrAssetMismatch, p.Payload.Asset)
		}
	}

	// 4. Amount, compared in the asset's smallest unit.
	amount, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: value %q", ErrMalformedPayment, auth.Value)
	}
	if amount.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: got %s, need %s", ErrInsufficientAmount, amount, required)
	}

	// 5. Validity window, with bounded clock-skew tolerance.
	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: validAfter %q", ErrMalformedPayment, auth.ValidAfter)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: validBefore %q", ErrMalformedPayment, auth.ValidBefore)
	}
	now := v.now()
	if now.Add(v.cfg.ClockSkew).Unix() < validAfter {
		return nil, fmt.Errorf("%w: valid from %d", ErrAuthorizationNotYetValid, validAfter)
	}
	if now.Add(-v.cfg.ClockSkew).Unix() >= validBefore {
		return nil, fmt.Errorf("%w: valid until %d", ErrAuthorizationExpired, validBefore)
	}

	// 6. Replay. Consuming is the check: insert-if-absent is atomic across
	// concurrent requests, closing the check/use race.
	nonce, err := normalizeNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}
	ttl := time.Unix(validBefore, 0).Sub(now) + v.cfg.ClockSkew
	payerKey := strings.ToLower(payer.Hex())
	consumed, err := v.replay.Consume(ctx, payerKey, nonce, ttl)
	if err != nil {
		return nil, fmt.Errorf("replay store: %w", err)
	}
	if !consumed {
		return nil, fmt.Errorf("%w: payer %s", ErrReplayedAuthorization, payerKey)
	}

	// 7. Signature. Runs after the nonce is held; on failure the nonce is
	// released so a forged submission cannot burn a payer's real nonce.
	recovered, err := v.recoverSigner(auth, p.Payload.Signature)
	if err != nil || recovered != payer {
		if relErr := v.replay.Release(ctx, payerKey, nonce); relErr != nil {
			log.Error().Err(relErr).Str("payer", payerKey).Msg("failed to release nonce after signature rejection")
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: signed by %s", ErrInvalidSignature, recovered)
	}

	return &Verified{
		Payer:   payer,
		Amount:  amount,
		Nonce:   nonce,
		Payload: p,
	}, nil
}

// Release re-opens a verified authorization's nonce. Called when settlement
// fails after verification, so the caller can retry the same authorization.
func (v *Verifier) Release(ctx context.Context, verified *Verified) error {
	return v.replay.Release(ctx, strings.ToLower(verified.Payer.Hex()), verified.Nonce)
}

// recoverSigner computes the EIP-712 digest of the authorization under the
// configured asset's domain and recovers the signing address.
func (v *Verifier) recoverSigner(auth x402.ExactEVMAuthorization, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature length %d, want 65", len(sig))
	}
	// Wallets emit V as 27/28; go-ethereum expects 0/1.
	recovery := sig[64]
	if recovery >= 27 {
		recovery -= 27
	}
	if recovery > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[64])
	}
	sig = append(append([]byte{}, sig[:64]...), recovery)

	digest, err := v.typedDataHash(auth)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (v *Verifier) typedDataHash(auth x402.ExactEVMAuthorization) ([]byte, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              v.cfg.DomainName,
			Version:           v.cfg.DomainVersion,
			ChainId:           math.NewHexOrDecimal256(v.cfg.ChainID),
			VerifyingContract: v.cfg.Asset.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hashing typed data: %w", err)
	}
	return digest, nil
}

func normalizeNonce(nonce string) (string, error) {
	raw, err := hexutil.Decode(nonce)
	if err != nil {
		return "", fmt.Errorf("%w: nonce %q", ErrMalformedPayment, nonce)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%w: nonce length %d, want 32 bytes", ErrMalformedPayment, len(raw))
	}
	return strings.ToLower(nonce), nil
}
