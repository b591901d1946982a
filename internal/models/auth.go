package models

import "github.com/golang-jwt/jwt/v5"

// Roles accepted by the operator API
const (
	RoleAdmin   = "admin"
	RoleService = "service" // host applications reporting auth flow outcomes
)

// TokenClaims are carried by operator tokens for the admin API
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
