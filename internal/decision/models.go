package decision

import (
	"fmt"
	"time"

	"afterimage/internal/gate"
	"afterimage/internal/ledger"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
)

// EvaluateRequest asks for one governed action to be gated and recorded.
type EvaluateRequest struct {
	Actor       string
	PolicyClass scope.PolicyClass
	Constants   gate.Constants
	Environment gate.Environment
	Versions    gate.Versions
}

// EvaluateResult is the committed outcome.
type EvaluateResult struct {
	Record ledger.Record
}

// CooldownActiveError rejects a request while a previous gate result is
// still cooling down for the same actor and policy class.
type CooldownActiveError struct {
	Remaining time.Duration
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active for another %s", e.Remaining.Round(time.Millisecond))
}

func (e *CooldownActiveError) Unwrap() error {
	return dErrors.New(dErrors.CodeCooldownActive, "a cooldown is active for this actor and policy class")
}
