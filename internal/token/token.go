// Package token issues, verifies, rotates, and blacklists the signed bearer
// tokens bound to sessions. Token lifecycle is independent of session
// admission: a token pair can be rotated or revoked without consulting the
// policy engine.
package token

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"session-control-plane/internal/security"
)

// ErrInvalidToken is returned for every token validation failure (signature,
// expiry, blacklist, revocation). Deliberately generic: callers must not be
// able to distinguish the internal cause.
var ErrInvalidToken = errors.New("invalid token")

// Token kinds embedded in the kind claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims are the self-describing contents of both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	PrincipalName string `json:"principal_name,omitempty"`
	SessionID     string `json:"session_id"`
	Kind          string `json:"kind"`
}

// PrincipalID returns the subject claim.
func (c *Claims) PrincipalID() string { return c.Subject }

// signer signs and verifies JWTs with RS256 or ES256 from an opaque key pair
// supplied at process start.
type signer struct {
	private  crypto.Signer
	public   crypto.PublicKey
	issuer   string
	audience string
}

func (s *signer) sign(claims *Claims) (string, error) {
	var method jwt.SigningMethod
	switch security.KeyAlg(s.private.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(s.private)
}

// verify parses tokenString and checks signature, expiry, issuer, and audience.
func (s *signer) verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return s.public, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return s.public, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == s.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// expiryOf extracts the embedded expiry without verifying the signature.
// Used only to size blacklist TTLs for tokens we are invalidating anyway.
func expiryOf(tokenString string) (time.Time, bool) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
