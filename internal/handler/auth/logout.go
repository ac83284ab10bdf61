package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	pkghttp "lime/internal/pkg/http"
)

// Logout 退出登录
// @Summary      退出登录
// @Description  删除 Refresh Token；Access Token 到期前仍然有效
// @Tags         认证
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  pkghttp.SuccessResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /api/v1/auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	// Refresh Token 可以放在 header 或 body 中
	refreshToken := c.GetHeader("X-Refresh-Token")
	if refreshToken == "" {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := c.ShouldBindJSON(&req); err == nil {
			refreshToken = req.RefreshToken
		}
	}

	if refreshToken != "" {
		if err := h.authService.Logout(c.Request.Context(), refreshToken); err != nil {
			log.Warn().Err(err).Msg("failed to delete refresh token")
		}
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("Logged out", nil))
}
