// Package tier declares the service tiers and their profiles: price, resource
// ceilings, and the execution feature allowlist. The table is static and
// process-wide; every other component consults it through Get.
package tier

import (
	"errors"
	"fmt"
	"time"
)

// Tier is a named service level.
type Tier string

const (
	Basic    Tier = "basic"
	Standard Tier = "standard"
	Premium  Tier = "premium"
)

// ErrUnknownTier is returned for any tier outside the declared enum.
var ErrUnknownTier = errors.New("unknown tier")

// Execution features that a tier's allowlist may grant to sandboxed code.
const (
	FeatureConsole = "console" // console.log / console.error
	FeatureDate    = "date"    // the Date global
	FeatureRandom  = "random"  // Math.random
)

// Profile bundles a tier's price with its resource ceilings and features.
// Price is in the settlement asset's smallest unit.
type Profile struct {
	Tier        Tier
	PriceAtomic int64
	Timeout     time.Duration
	MemoryMB    int64
	Features    []string
}

// Profiles are ordered ascending; prices and ceilings never decrease and
// feature sets only grow across the order.
var profiles = []Profile{
	{
		Tier:        Basic,
		PriceAtomic: 10_000, // $0.01 in 6-decimal USDC
		Timeout:     10 * time.Second,
		MemoryMB:    128,
		Features:    []string{FeatureConsole},
	},
	{
		Tier:        Standard,
		PriceAtomic: 50_000,
		Timeout:     30 * time.Second,
		MemoryMB:    256,
		Features:    []string{FeatureConsole, FeatureDate},
	},
	{
		Tier:        Premium,
		PriceAtomic: 100_000,
		Timeout:     60 * time.Second,
		MemoryMB:    512,
		Features:    []string{FeatureConsole, FeatureDate, FeatureRandom},
	},
}

// Get returns the profile for the given tier.
func Get(t Tier) (Profile, error) {
	for _, p := range profiles {
		if p.Tier == t {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrUnknownTier, t)
}

// Parse converts a request-level tier string into a Tier.
func Parse(s string) (Tier, error) {
	t := Tier(s)
	if _, err := Get(t); err != nil {
		return "", err
	}
	return t, nil
}

// All returns every profile in ascending order.
func All() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Names returns the declared tier names in ascending order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, string(p.Tier))
	}
	return names
}

// EffectiveTimeout clamps a caller-supplied timeout to the tier ceiling.
// A zero or negative request means "use the ceiling"; a request may only
// tighten the ceiling, never loosen it.
func (p Profile) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 || requested > p.Timeout {
		return p.Timeout
	}
	return requested
}

// Allows reports whether the tier's allowlist grants the named feature.
func (p Profile) Allows(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}
