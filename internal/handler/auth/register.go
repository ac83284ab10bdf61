package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	pkghttp "lime/internal/pkg/http"
)

// RegisterRequest 用户注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"` // 用户名（必填，3-50字符）
	Email    string `json:"email" binding:"omitempty,email"`          // 邮箱（可选）
	Password string `json:"password" binding:"required,min=6"`        // 密码（必填，至少6位）
}

// Register 用户注册
// @Summary      用户注册
// @Description  注册新用户；开启 auth.require_activation 时新用户需要管理员激活
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request  body      RegisterRequest  true  "注册请求"
// @Success      201      {object}  pkghttp.SuccessResponse{data=UserInfo}
// @Failure      400      {object}  ErrorResponse
// @Failure      500      {object}  ErrorResponse
// @Router       /api/v1/auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.authService.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	message := "Registered"
	if !user.IsActive {
		message = "Registered, waiting for administrator activation"
	}
	c.JSON(http.StatusCreated, pkghttp.NewSuccessResponse(message, toUserInfo(user)))
}
