package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"lime/internal/model/auth"
	pkghttp "lime/internal/pkg/http"
	"lime/internal/service"
)

// ErrorResponse 错误响应（所有API共用）
type ErrorResponse = pkghttp.ErrorResponse

// UserInfo 用户信息（用于响应，所有API共用）
type UserInfo struct {
	ID          string `json:"id"`                      // 用户ID
	Username    string `json:"username"`                // 用户名
	Email       string `json:"email,omitempty"`         // 邮箱
	IsActive    bool   `json:"is_active"`               // 是否激活
	IsSuperuser bool   `json:"is_superuser"`            // 是否管理员
	LastLoginAt string `json:"last_login_at,omitempty"` // 最后登录时间
	CreatedAt   string `json:"created_at,omitempty"`    // 创建时间
}

// toUserInfo 将User实体转换为UserInfo（所有API共用）
func toUserInfo(user *auth.User) UserInfo {
	info := UserInfo{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		IsActive:    user.IsActive,
		IsSuperuser: user.IsSuperuser,
	}
	if user.LastLoginAt != nil {
		info.LastLoginAt = user.LastLoginAt.Format(time.RFC3339)
	}
	if !user.CreatedAt.IsZero() {
		info.CreatedAt = user.CreatedAt.Format(time.RFC3339)
	}
	return info
}

// authErrors 认证错误 -> HTTP 状态码、错误码
var authErrors = []struct {
	err    error
	status int
	code   int
}{
	{service.ErrUserAlreadyExists, http.StatusBadRequest, 40001},
	{service.ErrEmailTaken, http.StatusBadRequest, 40002},
	{service.ErrUserInactive, http.StatusForbidden, 40005},
	{service.ErrUserNotFound, http.StatusUnauthorized, 40101},
	{service.ErrInvalidPassword, http.StatusUnauthorized, 40101},
	{service.ErrInvalidToken, http.StatusUnauthorized, 40102},
	{service.ErrExpiredToken, http.StatusUnauthorized, 40103},
}

// writeError 已知错误原样返回消息，其余统一为 500
func writeError(c *gin.Context, err error) {
	for _, e := range authErrors {
		if errors.Is(err, e.err) {
			c.JSON(e.status, pkghttp.NewErrorResponse(e.code, "", err.Error()))
			return
		}
	}

	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("auth request failed")
	c.JSON(http.StatusInternalServerError, pkghttp.NewErrorResponse(50001, service.KindInternal, "Internal Server Error"))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, pkghttp.NewErrorResponse(40000, "", "Invalid request body", err.Error()))
}
