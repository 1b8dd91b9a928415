package handler

import (
	"afterimage/internal/gate"
	"afterimage/internal/scope"
	dErrors "afterimage/pkg/domain-errors"
)

// EvaluateRequest is the HTTP request body for POST /decision/evaluate.
type EvaluateRequest struct {
	PolicyClass       string            `json:"policy_class"`
	Constants         *gate.Constants   `json:"constants"`
	Environment       *gate.Environment `json:"environment"`
	WeightsVersion    string            `json:"weights_version"`
	ThresholdsVersion string            `json:"thresholds_version"`

	// Parsed values (populated by Validate)
	parsedPolicyClass scope.PolicyClass
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *EvaluateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	// Size validation (fail fast)
	if len(r.WeightsVersion) > 64 || len(r.ThresholdsVersion) > 64 {
		return dErrors.New(dErrors.CodeValidation, "version tags must be at most 64 characters")
	}

	// Required fields
	if r.Constants == nil {
		return dErrors.New(dErrors.CodeValidation, "constants is required")
	}
	if r.Environment == nil {
		return dErrors.New(dErrors.CodeValidation, "environment is required")
	}
	policyClass, err := scope.ParsePolicyClass(r.PolicyClass)
	if err != nil {
		return err
	}
	r.parsedPolicyClass = policyClass

	if err := r.Constants.Validate(); err != nil {
		return err
	}
	if err := r.Environment.Validate(); err != nil {
		return err
	}
	return r.versions().Validate()
}

// ParsedPolicyClass returns the validated policy class.
func (r *EvaluateRequest) ParsedPolicyClass() scope.PolicyClass {
	return r.parsedPolicyClass
}

func (r *EvaluateRequest) versions() gate.Versions {
	return gate.Versions{Weights: r.WeightsVersion, Thresholds: r.ThresholdsVersion}
}
