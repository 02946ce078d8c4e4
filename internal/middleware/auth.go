package middleware

import (
	"errors"
	"fmt"
	"strings"

	pkgAuth "table-service/pkg/auth"
	appErr "table-service/pkg/errors"
	"table-service/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey  = "userID"
	ContextAdminIDKey = "adminID"
)

// AuthRequired accepts bettor tokens issued by the session service.
func AuthRequired() gin.HandlerFunc {
	return requireScope(pkgAuth.ParseUserToken, ContextUserIDKey)
}

// AdminAuthRequired accepts operator tokens only. A bettor token is
// rejected even when its signature is valid.
func AdminAuthRequired() gin.HandlerFunc {
	return requireScope(pkgAuth.ParseAdminToken, ContextAdminIDKey)
}

func requireScope(parse func(string) (*pkgAuth.Claims, error), key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.AbortFail(c, err)
			return
		}

		claims, err := parse(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, pkgAuth.ErrWrongScope) {
				msg = "token scope not allowed here"
			}
			response.AbortFail(c, fmt.Errorf("%w: %s", appErr.ErrUnauthorized, msg))
			return
		}

		c.Set(key, claims.SubjectID)
		c.Next()
	}
}

func extractBearerToken(authHeader string) (string, error) {
	if strings.TrimSpace(authHeader) == "" {
		return "", fmt.Errorf("%w: missing authorization header", appErr.ErrUnauthorized)
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: invalid authorization header", appErr.ErrUnauthorized)
	}
	return strings.TrimSpace(parts[1]), nil
}
