package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lime/internal/model/auth"
	"lime/internal/pkg/ctxutil"
	pkghttp "lime/internal/pkg/http"
	"lime/internal/service"
)

// TokenValidator 校验 Access Token 并返回可用的用户
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.User, error)
}

// Auth JWT 认证中间件
// 从 Authorization header 中提取 Bearer token，校验通过后把调用方身份注入到 context
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, 40101, "Unauthorized")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortUnauthorized(c, 40101, "Invalid authorization header")
			return
		}

		user, err := validator.ValidateToken(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrUserInactive):
				c.AbortWithStatusJSON(http.StatusForbidden, pkghttp.NewErrorResponse(40005, "", err.Error()))
			case errors.Is(err, service.ErrExpiredToken):
				abortUnauthorized(c, 40103, err.Error())
			default:
				abortUnauthorized(c, 40102, "Invalid or expired token")
			}
			return
		}

		ctx := ctxutil.WithIdentity(c.Request.Context(), ctxutil.Identity{
			UserID:    user.ID,
			Username:  user.Username,
			Superuser: user.IsSuperuser,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", user.ID)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code int, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(code, "", message))
}
