package oauth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	mcperrors "github.com/ajitpratap0/mcp-http-transport/pkg/errors"
)

// ClaimsFromJWT decodes the claims of a JWT without verifying its signature.
// The transport only reads the claims to describe a token it was handed.
func ClaimsFromJWT(token string) (jwt.MapClaims, error) {
	if strings.Count(token, ".") != 2 {
		return nil, mcperrors.InvalidToken("Invalid JWT token format: token must have three parts", nil)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, mcperrors.InvalidToken(fmt.Sprintf("Failed to parse JWT token: %v", err), err)
	}
	return claims, nil
}

// FillExpiry sets tok.Expiry from the access token's exp claim when the
// token source left it empty. Opaque tokens are left untouched.
func FillExpiry(tok *oauth2.Token) (subject string) {
	if tok == nil || tok.AccessToken == "" {
		return ""
	}
	claims, err := ClaimsFromJWT(tok.AccessToken)
	if err != nil {
		return ""
	}
	if tok.Expiry.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			tok.Expiry = exp.Time.In(time.UTC)
		}
	}
	subject, _ = claims.GetSubject()
	return subject
}
