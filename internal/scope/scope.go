// Package scope models actor privilege tiers and the policy classes they may act on.
//
// Tiers form a closed, ordered set: AUDIT < K2 < K4 < K6 < K10. AUDIT is read-only
// and can never append to a ledger. Each policy class implies the minimum tier
// allowed to request a governed action of that class.
package scope

import (
	"fmt"
	"strings"

	dErrors "afterimage/pkg/domain-errors"
)

// Tier is an actor privilege level.
type Tier string

const (
	TierAudit Tier = "AUDIT"
	TierK2    Tier = "K2"
	TierK4    Tier = "K4"
	TierK6    Tier = "K6"
	TierK10   Tier = "K10"
)

var tierRank = map[Tier]int{
	TierAudit: 0,
	TierK2:    2,
	TierK4:    4,
	TierK6:    6,
	TierK10:   10,
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := tierRank[t]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown tier %q", s))
	}
	return t, nil
}

func (t Tier) IsValid() bool {
	_, ok := tierRank[t]
	return ok
}

// CanWrite reports whether the tier may request appends at all.
func (t Tier) CanWrite() bool {
	return t.IsValid() && t != TierAudit
}

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool {
	a, okA := tierRank[t]
	b, okB := tierRank[other]
	return okA && okB && a >= b
}

// PolicyClass classifies a governed action by the privilege it demands.
type PolicyClass string

const (
	PolicyRoutine   PolicyClass = "routine"
	PolicyElevated  PolicyClass = "elevated"
	PolicySensitive PolicyClass = "sensitive"
	PolicyCritical  PolicyClass = "critical"
)

var requiredTier = map[PolicyClass]Tier{
	PolicyRoutine:   TierK2,
	PolicyElevated:  TierK4,
	PolicySensitive: TierK6,
	PolicyCritical:  TierK10,
}

// ParsePolicyClass parses a policy class name.
func ParsePolicyClass(s string) (PolicyClass, error) {
	p := PolicyClass(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := requiredTier[p]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown policy class %q", s))
	}
	return p, nil
}

// RequiredTier returns the minimum tier for the class.
func (p PolicyClass) RequiredTier() (Tier, bool) {
	t, ok := requiredTier[p]
	return t, ok
}

// ActorScope binds an actor identifier to its tier.
type ActorScope struct {
	Actor string `json:"actor"`
	Tier  Tier   `json:"tier"`
}

// Authorize fails closed: unknown tiers, unknown classes, read-only actors and
// tiers below the class requirement are all Forbidden.
func Authorize(s ActorScope, class PolicyClass) error {
	if strings.TrimSpace(s.Actor) == "" {
		return dErrors.New(dErrors.CodeForbidden, "actor is required")
	}
	required, ok := class.RequiredTier()
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("unknown policy class %q", class))
	}
	if !s.Tier.CanWrite() {
		return dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("tier %q may not append", s.Tier))
	}
	if !s.Tier.AtLeast(required) {
		return dErrors.New(dErrors.CodeForbidden,
			fmt.Sprintf("tier %s is below %s required for %s actions", s.Tier, required, class))
	}
	return nil
}
