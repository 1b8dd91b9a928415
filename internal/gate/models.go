package gate

import (
	"math"
	"time"

	dErrors "afterimage/pkg/domain-errors"
)

// Gate is the classification outcome of a governed decision.
type Gate string

const (
	GatePass   Gate = "PASS"
	GateRing   Gate = "RING"
	GateBounce Gate = "BOUNCE"
	GateLock   Gate = "LOCK"
)

// Gates lists every gate in ascending severity.
var Gates = []Gate{GatePass, GateRing, GateBounce, GateLock}

// Severity returns the gate's position in the severity order, or -1 if unknown.
func (g Gate) Severity() int {
	for i, candidate := range Gates {
		if candidate == g {
			return i
		}
	}
	return -1
}

func (g Gate) IsValid() bool {
	return g.Severity() >= 0
}

// ParseGate parses a gate name.
func ParseGate(s string) (Gate, error) {
	g := Gate(s)
	if !g.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "gate must be one of PASS, RING, BOUNCE, LOCK")
	}
	return g, nil
}

// Constants are the per-decision physical inputs.
type Constants struct {
	M   float64 `json:"m" yaml:"m"`
	Psi float64 `json:"psi" yaml:"psi"`
	R   float64 `json:"r" yaml:"r"`
	F0  float64 `json:"f0" yaml:"f0"`
}

// Validate requires every constant to be finite.
func (c Constants) Validate() error {
	for _, v := range []float64{c.M, c.Psi, c.R, c.F0} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return dErrors.New(dErrors.CodeValidation, "constants must be finite")
		}
	}
	return nil
}

// Environment captures the densities and risk surrounding a decision, each in [0,1].
type Environment struct {
	TimeDensity    float64 `json:"time_density" yaml:"time_density"`
	SpatialDensity float64 `json:"spatial_density" yaml:"spatial_density"`
	ContextRisk    float64 `json:"context_risk" yaml:"context_risk"`
}

// Validate requires every component to lie in [0,1]. NaN fails both comparisons.
func (e Environment) Validate() error {
	for _, v := range []float64{e.TimeDensity, e.SpatialDensity, e.ContextRisk} {
		if !(v >= 0 && v <= 1) {
			return dErrors.New(dErrors.CodeValidation, "environment values must be within [0,1]")
		}
	}
	return nil
}

// Versions pins the parameter tables used for a decision.
type Versions struct {
	Weights    string `json:"weights_version"`
	Thresholds string `json:"thresholds_version"`
}

func (v Versions) Validate() error {
	if v.Weights == "" {
		return dErrors.New(dErrors.CodeValidation, "weights_version is required")
	}
	if v.Thresholds == "" {
		return dErrors.New(dErrors.CodeValidation, "thresholds_version is required")
	}
	return nil
}

// Outcome is the full result of scoring and classifying one decision.
type Outcome struct {
	Score    float64
	Gate     Gate
	Cooldown time.Duration
}
