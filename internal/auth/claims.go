package auth

import "github.com/golang-jwt/jwt/v5"

// SessionClaims is the payload of a moderator session token. The subject is the
// moderator's external id.
type SessionClaims struct {
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}
