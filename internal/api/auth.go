package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const userContextKey = "UserID"

// DefaultTokenTTL is the lifetime of an operator token.
const DefaultTokenTTL = 72 * time.Hour

// UserClaims represents JWT claims for an authenticated operator.
type UserClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// GenerateToken signs an operator token for userID.
func GenerateToken(userID, secret string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	return signed, expiresAt, err
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims.UserID, nil
	}
	return "", errors.New("invalid token claims")
}

// AuthMiddleware enforces JWT auth for protected routes. The token comes from
// the Authorization header or, for websocket clients, the token query param.
// With no secret configured every request is refused.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			respondError(c, http.StatusServiceUnavailable, "AUTH_NOT_CONFIGURED", "set JWT_SECRET to use the API")
			c.Abort()
			return
		}
		tokenStr := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":  "INVALID_AUTH_HEADER",
					"error": "invalid Authorization header",
				})
				return
			}
			tokenStr = parts[1]
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}

		userID, err := parseToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(userContextKey, userID)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	if v, ok := c.Get(userContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}
