package tier

import (
	"errors"
	"testing"
	"time"
)

func TestGet_KnownTiers(t *testing.T) {
	for _, name := range []Tier{Basic, Standard, Premium} {
		p, err := Get(name)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", name, err)
		}
		if p.Tier != name {
			t.Errorf("Get(%s).Tier = %s", name, p.Tier)
		}
	}
}

func TestGet_UnknownTier(t *testing.T) {
	_, err := Get("platinum")
	if !errors.Is(err, ErrUnknownTier) {
		t.Errorf("Get(platinum) error = %v, want ErrUnknownTier", err)
	}
}

func TestProfiles_Monotonic(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		lo, hi := all[i-1], all[i]
		if lo.PriceAtomic > hi.PriceAtomic {
			t.Errorf("price(%s)=%d > price(%s)=%d", lo.Tier, lo.PriceAtomic, hi.Tier, hi.PriceAtomic)
		}
		if lo.Timeout > hi.Timeout {
			t.Errorf("timeout(%s)=%s > timeout(%s)=%s", lo.Tier, lo.Timeout, hi.Tier, hi.Timeout)
		}
		if lo.MemoryMB > hi.MemoryMB {
			t.Errorf("memory(%s)=%d > memory(%s)=%d", lo.Tier, lo.MemoryMB, hi.Tier, hi.MemoryMB)
		}
		// Feature sets grow: everything allowed below stays allowed above.
		for _, f := range lo.Features {
			if !hi.Allows(f) {
				t.Errorf("feature %q allowed in %s but not in %s", f, lo.Tier, hi.Tier)
			}
		}
	}
}

func TestEffectiveTimeout(t *testing.T) {
	basic, _ := Get(Basic)

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"zero uses ceiling", 0, basic.Timeout},
		{"under ceiling kept", 2 * time.Second, 2 * time.Second},
		{"over ceiling clamped", 5 * time.Minute, basic.Timeout},
		{"negative uses ceiling", -time.Second, basic.Timeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := basic.EffectiveTimeout(tt.requested); got != tt.want {
				t.Errorf("EffectiveTimeout(%s) = %s, want %s", tt.requested, got, tt.want)
			}
		})
	}
}

func TestAllows(t *testing.T) {
	basic, _ := Get(Basic)
	if !basic.Allows(FeatureConsole) {
		t.Error("basic should allow console")
	}
	if basic.Allows(FeatureRandom) {
		t.Error("basic should not allow random")
	}
	premium, _ := Get(Premium)
	if !premium.Allows(FeatureRandom) {
		t.Error("premium should allow random")
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("standard"); err != nil {
		t.Errorf("Parse(standard) error = %v", err)
	}
	if _, err := Parse(""); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("Parse(\"\") error = %v, want ErrUnknownTier", err)
	}
}
