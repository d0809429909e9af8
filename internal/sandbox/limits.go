package sandbox

import (
	"fmt"
	"time"

	"x402-sandbox/internal/tier"
)

// MaxCodeLength caps submitted source size in characters.
const MaxCodeLength = 10_000

// Limits are the resource ceilings applied to one execution.
type Limits struct {
	Timeout     time.Duration `json:"timeout"`
	MemoryMB    int64         `json:"memory_mb"`
	MaxLogBytes int           `json:"max_log_bytes"`
}

// DefaultMaxLogBytes caps console output captured per execution.
const DefaultMaxLogBytes = 64 * 1024

// LimitsForProfile derives execution limits from a tier profile and an
// optional caller-requested timeout. The request may only tighten the tier's
// ceiling, never loosen it.
func LimitsForProfile(p tier.Profile, requested time.Duration) Limits {
	return Limits{
		Timeout:     p.EffectiveTimeout(requested),
		MemoryMB:    p.MemoryMB,
		MaxLogBytes: DefaultMaxLogBytes,
	}
}

func (l Limits) Validate() error {
	if l.Timeout <= 0 || l.Timeout > 5*time.Minute {
		return fmt.Errorf("%w: timeout must be in (0s, 5m], got %s", ErrInvalidRequest, l.Timeout)
	}
	if l.MemoryMB < 16 || l.MemoryMB > 2048 {
		return fmt.Errorf("%w: memory_mb must be 16-2048, got %d", ErrInvalidRequest, l.MemoryMB)
	}
	return nil
}
