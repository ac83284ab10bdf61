package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	pkghttp "lime/internal/pkg/http"
)

// RefreshTokenRequest 刷新Token请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"` // Refresh Token（必填）
}

// RefreshTokenResponseData 刷新Token响应数据
type RefreshTokenResponseData struct {
	AccessToken string `json:"access_token"` // Access Token
	ExpiresIn   int    `json:"expires_in"`   // 过期时间（秒）
	TokenType   string `json:"token_type"`   // Token类型：Bearer
}

// Refresh 刷新Token
// @Summary      刷新Token
// @Description  使用Refresh Token刷新Access Token
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request  body      RefreshTokenRequest  true  "刷新Token请求"
// @Success      200      {object}  pkghttp.SuccessResponse{data=RefreshTokenResponseData}
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Router       /api/v1/auth/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("success", RefreshTokenResponseData{
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
		TokenType:   resp.TokenType,
	}))
}
