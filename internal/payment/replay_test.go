package payment

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryReplayStore_ConsumeOnce(t *testing.T) {
	s := NewMemoryReplayStore()
	defer s.Close()

	ctx := context.Background()
	ok, err := s.Consume(ctx, "0xabc", "0x01", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Consume() = %v, %v, want true, nil", ok, err)
	}
	ok, err = s.Consume(ctx, "0xabc", "0x01", time.Minute)
	if err != nil || ok {
		t.Fatalf("second Consume() = %v, %v, want false, nil", ok, err)
	}
}

func TestMemoryReplayStore_PayerScoped(t *testing.T) {
	s := NewMemoryReplayStore()
	defer s.Close()

	ctx := context.Background()
	if ok, _ := s.Consume(ctx, "0xabc", "0x01", time.Minute); !ok {
		t.Fatal("consume for first payer failed")
	}
	// Same nonce under a different payer is a distinct entry.
	if ok, _ := s.Consume(ctx, "0xdef", "0x01", time.Minute); !ok {
		t.Error("nonce wrongly shared across payers")
	}
}

func TestMemoryReplayStore_ConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryReplayStore()
	defer s.Close()

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Consume(context.Background(), "0xabc", "0x02", time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestMemoryReplayStore_ReleaseReopens(t *testing.T) {
	s := NewMemoryReplayStore()
	defer s.Close()

	ctx := context.Background()
	if ok, _ := s.Consume(ctx, "0xabc", "0x03", time.Minute); !ok {
		t.Fatal("initial consume failed")
	}
	if err := s.Release(ctx, "0xabc", "0x03"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Consume(ctx, "0xabc", "0x03", time.Minute); !ok {
		t.Error("consume after release failed")
	}
}

func TestMemoryReplayStore_ExpiredEntryReusable(t *testing.T) {
	s := NewMemoryReplayStore()
	defer s.Close()

	ctx := context.Background()
	if ok, _ := s.Consume(ctx, "0xabc", "0x04", 10*time.Millisecond); !ok {
		t.Fatal("initial consume failed")
	}
	time.Sleep(20 * time.Millisecond)

	// Past its TTL the entry no longer blocks, even before the janitor runs.
	if ok, _ := s.Consume(ctx, "0xabc", "0x04", time.Minute); !ok {
		t.Error("consume after expiry failed")
	}
}

func TestMemoryReplayStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryReplayStore()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
