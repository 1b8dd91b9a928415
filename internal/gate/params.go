package gate

import (
	"fmt"
	"math"
	"time"
)

// WeightTable holds the coefficients the score formula applies to one decision.
// A table is identified by its version tag and never changes once registered.
type WeightTable struct {
	Version        string  `yaml:"version"`
	Magnitude      float64 `yaml:"magnitude"`
	Pressure       float64 `yaml:"pressure"`
	Resistance     float64 `yaml:"resistance"`
	Baseline       float64 `yaml:"baseline"`
	TimeDensity    float64 `yaml:"time_density"`
	SpatialDensity float64 `yaml:"spatial_density"`
	ContextRisk    float64 `yaml:"context_risk"`
}

// Validate requires a version tag and finite coefficients.
func (w WeightTable) Validate() error {
	if w.Version == "" {
		return fmt.Errorf("weight table version is required")
	}
	coefficients := []float64{
		w.Magnitude, w.Pressure, w.Resistance, w.Baseline,
		w.TimeDensity, w.SpatialDensity, w.ContextRisk,
	}
	for _, c := range coefficients {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("weight table %s: coefficients must be finite", w.Version)
		}
	}
	return nil
}

// CooldownRule computes a gate's cooldown from how far the score overshoots
// the gate's lower bound: Base + PerUnit*overshoot, capped at Max when Max > 0.
type CooldownRule struct {
	Base    time.Duration `yaml:"base"`
	PerUnit time.Duration `yaml:"per_unit"`
	Max     time.Duration `yaml:"max"`
}

// ThresholdTable holds the bracket bounds and cooldown rules for one version.
type ThresholdTable struct {
	Version   string                `yaml:"version"`
	T1        float64               `yaml:"t1"`
	T2        float64               `yaml:"t2"`
	T3        float64               `yaml:"t3"`
	Cooldowns map[Gate]CooldownRule `yaml:"cooldowns"`
}

// Validate enforces ascending finite bounds and cooldown rules that never
// decrease with gate severity: neither the base, the per-unit step nor the
// longest reachable cooldown of a gate may be below the previous gate's.
func (t ThresholdTable) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("threshold table version is required")
	}
	for _, v := range []float64{t.T1, t.T2, t.T3} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("threshold table %s: bounds must be finite", t.Version)
		}
	}
	if t.T1 < 0 || !(t.T1 < t.T2 && t.T2 < t.T3) {
		return fmt.Errorf("threshold table %s: bounds must satisfy 0 <= t1 < t2 < t3", t.Version)
	}

	var prev CooldownRule
	for i, g := range Gates {
		rule := t.Cooldowns[g]
		if rule.Base < 0 || rule.PerUnit < 0 || rule.Max < 0 {
			return fmt.Errorf("threshold table %s: %s cooldown must be non-negative", t.Version, g)
		}
		if rule.PerUnit%time.Millisecond != 0 {
			return fmt.Errorf("threshold table %s: %s per_unit must be whole milliseconds", t.Version, g)
		}
		if rule.Max > 0 && rule.Max < rule.Base {
			return fmt.Errorf("threshold table %s: %s max must not be below base", t.Version, g)
		}
		if i > 0 {
			if rule.Base < prev.Base || rule.PerUnit < prev.PerUnit {
				return fmt.Errorf("threshold table %s: %s cooldown must not be below %s", t.Version, g, Gates[i-1])
			}
			if capBelow(rule, prev) {
				return fmt.Errorf("threshold table %s: %s max must not be below %s max", t.Version, g, Gates[i-1])
			}
		}
		prev = rule
	}
	return nil
}

// ceiling returns the longest cooldown a rule can produce. ok is false when
// the rule is unbounded.
func (r CooldownRule) ceiling() (d time.Duration, ok bool) {
	switch {
	case r.PerUnit == 0:
		return r.Base, true
	case r.Max > 0:
		return r.Max, true
	default:
		return 0, false
	}
}

// capBelow reports whether rule can never reach the longest cooldown of the
// less severe rule prev.
func capBelow(rule, prev CooldownRule) bool {
	ruleCap, bounded := rule.ceiling()
	if !bounded {
		return false
	}
	prevCap, prevBounded := prev.ceiling()
	return !prevBounded || ruleCap < prevCap
}

// lowerBound returns the inclusive lower bound of a gate's bracket.
func (t ThresholdTable) lowerBound(g Gate) float64 {
	switch g {
	case GateRing:
		return t.T1
	case GateBounce:
		return t.T2
	case GateLock:
		return t.T3
	default:
		return 0
	}
}
