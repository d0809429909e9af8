package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"x402-sandbox/pkg/x402"
)

var (
	testPayTo = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testAsset = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	testNow   = time.Unix(1_700_000_000, 0)
)

func testVerifier(t *testing.T) *Verifier {
	t.Helper()
	store := NewMemoryReplayStore()
	t.Cleanup(func() { store.Close() })

	v := NewVerifier(Config{
		PayTo:         testPayTo,
		Asset:         testAsset,
		Network:       "base-sepolia",
		ChainID:       84532,
		DomainName:    "USDC",
		DomainVersion: "2",
		ClockSkew:     30 * time.Second,
	}, store)
	v.now = func() time.Time { return testNow }
	return v
}

var nonceCounter int

func freshNonce(t *testing.T) string {
	t.Helper()
	nonceCounter++
	return fmt.Sprintf("0x%064x", nonceCounter)
}

// signedPayload builds a payment payload signed by a fresh key, returning
// the payload and the payer address.
func signedPayload(t *testing.T, v *Verifier, mutate func(*x402.ExactEVMAuthorization)) (*x402.PaymentPayload, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	payer := crypto.PubkeyToAddress(key.PublicKey)

	auth := x402.ExactEVMAuthorization{
		From:        payer.Hex(),
		To:          testPayTo.Hex(),
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: fmt.Sprint(testNow.Unix() + 600),
		Nonce:       freshNonce(t),
	}
	if mutate != nil {
		mutate(&auth)
	}

	digest, err := v.typedDataHash(auth)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27

	return &x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     "base-sepolia",
		Payload: x402.ExactEVMPayload{
			Signature:     hexutil.Encode(sig),
			Authorization: auth,
		},
	}, payer
}

func TestVerify_Valid(t *testing.T) {
	v := testVerifier(t)
	p, payer := signedPayload(t, v, nil)

	verified, err := v.Verify(context.Background(), p, big.NewInt(10000))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if verified.Payer != payer {
		t.Errorf("Payer = %s, want %s", verified.Payer, payer)
	}
	if verified.Amount.Int64() != 10000 {
		t.Errorf("Amount = %s, want 10000", verified.Amount)
	}
}

func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*x402.PaymentPayload)
		wantErr error
	}{
		{
			"unknown scheme",
			func(p *x402.PaymentPayload) { p.Scheme = "stream" },
			ErrUnsupportedScheme,
		},
		{
			"wrong network",
			func(p *x402.PaymentPayload) { p.Network = "solana" },
			ErrUnsupportedScheme,
		},
		{
			"wrong recipient",
			func(p *x402.PaymentPayload) {
				p.Payload.Authorization.To = "0x3333333333333333333333333333333333333333"
			},
			ErrRecipientMismatch,
		},
		{
			"wrong asset",
			func(p *x402.PaymentPayload) {
				p.Payload.Asset = "0x4444444444444444444444444444444444444444"
			},
			ErrAssetMismatch,
		},
		{
			"malformed value",
			func(p *x402.PaymentPayload) { p.Payload.Authorization.Value = "ten" },
			ErrMalformedPayment,
		},
		{
			"malformed nonce",
			func(p *x402.PaymentPayload) { p.Payload.Authorization.Nonce = "0xdead" },
			ErrMalformedPayment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testVerifier(t)
			p, _ := signedPayload(t, v, nil)
			tt.mutate(p)

			_, err := v.Verify(context.Background(), p, big.NewInt(10000))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_InsufficientAmount(t *testing.T) {
	v := testVerifier(t)
	p, _ := signedPayload(t, v, func(a *x402.ExactEVMAuthorization) {
		a.Value = "9999"
	})

	_, err := v.Verify(context.Background(), p, big.NewInt(10000))
	if !errors.Is(err, ErrInsufficientAmount) {
		t.Errorf("Verify() error = %v, want ErrInsufficientAmount", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	v := testVerifier(t)
	p, _ := signedPayload(t, v, func(a *x402.ExactEVMAuthorization) {
		a.ValidBefore = fmt.Sprint(testNow.Unix() - 3600)
	})

	_, err := v.Verify(context.Background(), p, big.NewInt(10000))
	if !errors.Is(err, ErrAuthorizationExpired) {
		t.Errorf("Verify() error = %v, want ErrAuthorizationExpired", err)
	}
}

func TestVerify_NotYetValid(t *testing.T) {
	v := testVerifier(t)
	p, _ := signedPayload(t, v, func(a *x402.ExactEVMAuthorization) {
		a.ValidAfter = fmt.Sprint(testNow.Unix() + 3600)
	})

	_, err := v.Verify(context.Background(), p, big.NewInt(10000))
	if !errors.Is(err, ErrAuthorizationNotYetValid) {
		t.Errorf("Verify() error = %v, want ErrAuthorizationNotYetValid", err)
	}
}

func TestVerify_Replay(t *testing.T) {
	v := testVerifier(t)
	p, _ := signedPayload(t, v, nil)

	if _, err := v.Verify(context.Background(), p, big.NewInt(10000)); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	_, err := v.Verify(context.Background(), p, big.NewInt(10000))
	if !errors.Is(err, ErrReplayedAuthorization) {
		t.Errorf("second Verify() error = %v, want ErrReplayedAuthorization", err)
	}
}

func TestVerify_ConcurrentReplay(t *testing.T) {
	v := testVerifier(t)
	p, _ := signedPayload(t, v, nil)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), p, big.NewInt(10000))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var admitted, replayed int
	for err := range results {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrReplayedAuthorization):
			replayed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1", admitted)
	}
	if replayed != workers-1 {
		t.Errorf("replayed = %d, want %d", replayed, workers-1)
	}
}

func TestVerify_InvalidSignatureReleasesNonce(t *testing.T) {
	v := testVerifier(t)
	p, _ := signedPayload(t, v, nil)

	// Tamper with the signed value so recovery yields a different address.
	tampered := *p
	tampered.Payload.Authorization.Value = "20000"

	_, err := v.Verify(context.Background(), &tampered, big.NewInt(10000))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify(tampered) error = %v, want ErrInvalidSignature", err)
	}

	// The forged submission must not have burned the nonce: the genuine
	// payload still verifies.
	if _, err := v.Verify(context.Background(), p, big.NewInt(10000)); err != nil {
		t.Errorf("Verify(genuine) after forgery error = %v", err)
	}
}

func TestRelease_AllowsRetry(t *testing.T) {
	v := testVerifier(t)
	p, _ := signedPayload(t, v, nil)

	verified, err := v.Verify(context.Background(), p, big.NewInt(10000))
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Release(context.Background(), verified); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(context.Background(), p, big.NewInt(10000)); err != nil {
		t.Errorf("Verify() after Release error = %v", err)
	}
}

func TestIsRejection(t *testing.T) {
	if !IsRejection(fmt.Errorf("wrapped: %w", ErrReplayedAuthorization)) {
		t.Error("wrapped rejection not recognized")
	}
	if IsRejection(errors.New("replay store: connection refused")) {
		t.Error("infrastructure error misclassified as rejection")
	}
}
