package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const subjectKey = "subject"

var ErrMissingToken = errors.New("missing bearer token")

// TokenVerifier checks HS256 tokens minted by an external identity provider.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenVerifier builds a verifier. Empty issuer or audience are not checked.
func NewTokenVerifier(secret []byte, issuer, audience string) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &TokenVerifier{
		secret: secret,
		parser: jwt.NewParser(opts...),
	}
}

func (v *TokenVerifier) Verify(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// RequireBearer rejects requests without a valid Authorization bearer token.
func RequireBearer(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var claims *jwt.RegisteredClaims
			claims, err = v.Verify(tokenString)
			if err == nil {
				c.Set(subjectKey, claims.Subject)
				c.Next()
				return
			}
		}

		zerolog.Ctx(c.Request.Context()).Debug().Err(err).Msg("Rejected request")
		c.Header("WWW-Authenticate", `Bearer realm="digidex"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// subject returns the token subject set by RequireBearer.
func subject(c *gin.Context) string {
	return c.GetString(subjectKey)
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
