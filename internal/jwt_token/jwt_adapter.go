package jwttoken

import (
	authmw "afterimage/pkg/platform/middleware/auth"
)

// Validator lets the auth middleware validate tokens without depending on
// the jwt library's claim types.
type Validator struct {
	service *JWTService
}

func NewValidator(service *JWTService) Validator {
	return Validator{service: service}
}

// ValidateToken returns the actor (token subject) and its optional tier claim.
func (v Validator) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{Actor: claims.Subject, Tier: claims.Tier, JTI: claims.ID}, nil
}
