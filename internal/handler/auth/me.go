package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lime/internal/pkg/ctxutil"
	pkghttp "lime/internal/pkg/http"
)

// GetMe 获取当前用户信息
// @Summary      获取当前用户信息
// @Description  获取当前登录用户的详细信息
// @Tags         认证
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  pkghttp.SuccessResponse{data=UserInfo}
// @Failure      401  {object}  ErrorResponse
// @Router       /api/v1/auth/me [get]
func (h *Handler) GetMe(c *gin.Context) {
	ident, ok := ctxutil.GetIdentity(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, pkghttp.NewErrorResponse(40101, "", "Unauthorized"))
		return
	}

	user, err := h.authService.ResolveUser(c.Request.Context(), ident.Username)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkghttp.NewSuccessResponse("success", toUserInfo(user)))
}
