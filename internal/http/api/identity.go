package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	handlers "github.com/Michaelasereo/mylinnk-sub001/internal/http/api/handlers"
	internalsettings "github.com/Michaelasereo/mylinnk-sub001/internal/settings"
)

// ErrInvalidIdentity indicates a token or header that does not name a caller.
var ErrInvalidIdentity = errors.New("invalid identity")

// IssueIdentityToken signs an HS256 token whose subject is identity.
func IssueIdentityToken(secret string, identity uint64, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatUint(identity, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("sign token: %w", errSign)
	}
	return signed, nil
}

// ParseIdentityToken verifies an HS256 token and returns its numeric subject.
func ParseIdentityToken(secret, raw string) (uint64, error) {
	claims := &jwt.RegisteredClaims{}
	token, errParse := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errParse != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidIdentity, errParse)
	}
	if !token.Valid {
		return 0, ErrInvalidIdentity
	}
	return parseIdentity(claims.Subject)
}

func parseIdentity(raw string) (uint64, error) {
	identity, errParse := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if errParse != nil || identity == 0 {
		return 0, ErrInvalidIdentity
	}
	return identity, nil
}

// identityMiddleware resolves the caller from a bearer token when secret is set,
// otherwise from the X-User-ID header.
func identityMiddleware(secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(c *gin.Context) {
		var (
			identity uint64
			errID    error
		)
		if secret != "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
				return
			}
			identity, errID = ParseIdentityToken(secret, strings.TrimSpace(token))
		} else {
			raw := c.GetHeader(internalsettings.HeaderUserID)
			if raw == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + internalsettings.HeaderUserID + " header"})
				return
			}
			identity, errID = parseIdentity(raw)
		}
		if errID != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(handlers.ContextKeyIdentity, identity)
		c.Next()
	}
}
