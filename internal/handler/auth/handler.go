package auth

import (
	"context"

	"lime/internal/model/auth"
	"lime/internal/service"
)

// Authenticator 认证接口里被 HTTP 层用到的部分，由 *service.AuthService 实现
type Authenticator interface {
	Register(ctx context.Context, username, email, password string) (*auth.User, error)
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*service.RefreshTokenResult, error)
	Logout(ctx context.Context, refreshToken string) error
	ResolveUser(ctx context.Context, username string) (*auth.User, error)
}

// Handler 注册、登录、令牌刷新与当前用户接口
type Handler struct {
	authService Authenticator
}

func NewHandler(authService Authenticator) *Handler {
	return &Handler{authService: authService}
}
