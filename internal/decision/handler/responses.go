package handler

import (
	"afterimage/internal/decision"
	"afterimage/internal/ledger"
)

// EvaluateResponse is the HTTP response for POST /decision/evaluate. It is the
// committed ledger record.
type EvaluateResponse struct {
	ledger.Snapshot
}

// FromResult converts a domain EvaluateResult to an HTTP response.
func FromResult(result *decision.EvaluateResult) *EvaluateResponse {
	return &EvaluateResponse{Snapshot: result.Record.Snapshot()}
}
