package outbound

import "time"

// JWTPort defines access token operations. Tokens are minted by the session
// provider in production; this service only needs to verify them.
type JWTPort interface {
	// GenerateAccessToken generates an access token.
	GenerateAccessToken(userID, email string) (string, time.Time, error)

	// ValidateAccessToken validates an access token.
	ValidateAccessToken(token string) (*JWTClaims, error)

	// GetAccessTokenExpiry returns access token expiry duration.
	GetAccessTokenExpiry() time.Duration
}

// JWTClaims represents JWT token claims.
type JWTClaims struct {
	UserID string
	Email  string
}
