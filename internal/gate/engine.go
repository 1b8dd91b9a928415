package gate

import (
	"math"
	"time"

	dErrors "afterimage/pkg/domain-errors"
)

// Engine scores and classifies governed decisions against versioned tables.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	resolver Resolver
}

func NewEngine(resolver Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Score resolves the weight table and applies the score formula.
func (e *Engine) Score(c Constants, env Environment, weightsVersion string) (float64, error) {
	w, err := e.resolver.Weights(weightsVersion)
	if err != nil {
		return 0, err
	}
	return ComputeScore(c, env, w)
}

// Classify resolves the threshold table and maps a score to a gate and cooldown.
func (e *Engine) Classify(score float64, thresholdsVersion string) (Gate, time.Duration, error) {
	t, err := e.resolver.Thresholds(thresholdsVersion)
	if err != nil {
		return "", 0, err
	}
	g, cooldown := ClassifyScore(score, t)
	return g, cooldown, nil
}

// Evaluate validates the inputs, scores, and classifies in one call.
func (e *Engine) Evaluate(c Constants, env Environment, v Versions) (Outcome, error) {
	if err := c.Validate(); err != nil {
		return Outcome{}, err
	}
	if err := env.Validate(); err != nil {
		return Outcome{}, err
	}
	if err := v.Validate(); err != nil {
		return Outcome{}, err
	}
	score, err := e.Score(c, env, v.Weights)
	if err != nil {
		return Outcome{}, err
	}
	g, cooldown, err := e.Classify(score, v.Thresholds)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Score: score, Gate: g, Cooldown: cooldown}, nil
}

// ComputeScore is the score formula. This is pure domain logic - no I/O, no side effects.
//
// Evaluation order is fixed and every product is rounded through an explicit
// float64 conversion, which forbids the compiler from fusing multiply-add
// pairs. That keeps results bit-identical across architectures.
func ComputeScore(c Constants, env Environment, w WeightTable) (float64, error) {
	force := float64(w.Magnitude * c.M)
	force = force + float64(w.Pressure*c.Psi)
	force = force + float64(w.Baseline*c.F0)
	force = force - float64(w.Resistance*c.R)

	amplify := 1.0
	amplify = amplify + float64(w.TimeDensity*env.TimeDensity)
	amplify = amplify + float64(w.SpatialDensity*env.SpatialDensity)
	amplify = amplify + float64(w.ContextRisk*env.ContextRisk)

	score := float64(force * amplify)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, dErrors.New(dErrors.CodeValidation, "score is not finite for the given constants")
	}
	if score < 0 {
		return 0, nil
	}
	return score, nil
}

// ClassifyScore maps a score to its bracket. Brackets are closed-open and
// ascending, so a score equal to a bound belongs to the higher-severity gate.
func ClassifyScore(score float64, t ThresholdTable) (Gate, time.Duration) {
	var g Gate
	switch {
	case score >= t.T3:
		g = GateLock
	case score >= t.T2 && score < t.T3:
		g = GateBounce
	case score >= t.T1 && score < t.T2:
		g = GateRing
	default:
		g = GatePass
	}
	return g, cooldownFor(score, g, t)
}

func cooldownFor(score float64, g Gate, t ThresholdTable) time.Duration {
	rule := t.Cooldowns[g]
	overshoot := score - t.lowerBound(g)
	if overshoot < 0 {
		overshoot = 0
	}

	extraMillis := math.Floor(float64(rule.PerUnit) / float64(time.Millisecond) * overshoot)
	cooldown := rule.Base
	if extraMillis >= float64(math.MaxInt64/int64(time.Millisecond)) {
		cooldown = time.Duration(math.MaxInt64)
	} else {
		cooldown += time.Duration(int64(extraMillis)) * time.Millisecond
		if cooldown < rule.Base {
			cooldown = time.Duration(math.MaxInt64)
		}
	}
	if rule.Max > 0 && cooldown > rule.Max {
		cooldown = rule.Max
	}
	return cooldown.Truncate(time.Millisecond)
}
