package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"lime/internal/model/auth"
	"lime/internal/pkg/cache"
	"lime/internal/pkg/id"
	"lime/internal/pkg/jwt"
	"lime/internal/pkg/password"
	"lime/internal/repository"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("username already registered")
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidPassword   = errors.New("incorrect username or password")
	ErrUserInactive      = errors.New("user is inactive, contact an administrator")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
)

// UserStore 用户存储
type UserStore interface {
	Create(ctx context.Context, user *auth.User) error
	FindByID(ctx context.Context, id string) (*auth.User, error)
	FindByUsername(ctx context.Context, username string) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	UpdateLastLoginAt(ctx context.Context, id string) error
}

// RefreshTokenStore Refresh Token 存储
type RefreshTokenStore interface {
	Create(ctx context.Context, token *auth.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*auth.RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) error
}

// UserCache 用户查询缓存
type UserCache interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
}

// AuthOptions 认证参数
type AuthOptions struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	RequireActivation  bool
	UserCacheTTL       time.Duration
}

// AuthService 认证服务
type AuthService struct {
	userRepo          UserStore
	refreshTokenRepo  RefreshTokenStore
	cache             UserCache
	jwt               *jwt.JWT
	refreshExpiry     time.Duration
	requireActivation bool
	cacheTTL          time.Duration
}

// NewAuthService 创建认证服务，cache 可以为 nil
func NewAuthService(userRepo UserStore, refreshTokenRepo RefreshTokenStore, userCache UserCache, opts AuthOptions) *AuthService {
	if opts.UserCacheTTL <= 0 {
		opts.UserCacheTTL = cache.UserCacheTTL
	}
	return &AuthService{
		userRepo:          userRepo,
		refreshTokenRepo:  refreshTokenRepo,
		cache:             userCache,
		jwt:               jwt.NewJWT(opts.JWTSecret, opts.AccessTokenExpiry),
		refreshExpiry:     opts.RefreshTokenExpiry,
		requireActivation: opts.RequireActivation,
		cacheTTL:          opts.UserCacheTTL,
	}
}

// Register 用户注册
func (s *AuthService) Register(ctx context.Context, username, email, pwd string) (*auth.User, error) {
	return s.createUser(ctx, username, email, pwd, !s.requireActivation, false)
}

// CreateUser 管理员创建用户（命令行使用），直接激活
func (s *AuthService) CreateUser(ctx context.Context, username, email, pwd string, superuser bool) (*auth.User, error) {
	return s.createUser(ctx, username, email, pwd, true, superuser)
}

func (s *AuthService) createUser(ctx context.Context, username, email, pwd string, active, superuser bool) (*auth.User, error) {
	if _, err := s.userRepo.FindByUsername(ctx, username); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if email != "" {
		if _, err := s.userRepo.FindByEmail(ctx, email); err == nil {
			return nil, ErrEmailTaken
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	hashedPassword, err := password.Hash(pwd)
	if err != nil {
		log.Error().Err(err).Msg("failed to hash password")
		return nil, errors.New("failed to hash password")
	}

	user := &auth.User{
		ID:          id.New(),
		Username:    username,
		Email:       email,
		Password:    hashedPassword,
		IsActive:    active,
		IsSuperuser: superuser,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		log.Error().Err(err).Msg("failed to create user")
		return nil, errors.New("failed to create user")
	}
	return user, nil
}

// LoginResult 登录结果
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	TokenType    string
	User         *auth.User
}

// Login 用户登录
func (s *AuthService) Login(ctx context.Context, username, pwd string) (*LoginResult, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !password.Verify(pwd, user.Password) {
		return nil, ErrInvalidPassword
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	accessToken, err := s.jwt.GenerateToken(user.ID, user.Username, user.IsSuperuser)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate access token")
		return nil, errors.New("failed to generate token")
	}

	refreshTokenValue := jwt.GenerateRefreshToken()
	refreshToken := &auth.RefreshToken{
		ID:        id.New(),
		UserID:    user.ID,
		Token:     refreshTokenValue,
		ExpiresAt: time.Now().Add(s.refreshExpiry),
	}
	if err := s.refreshTokenRepo.Create(ctx, refreshToken); err != nil {
		log.Error().Err(err).Msg("failed to create refresh token")
		return nil, errors.New("failed to create refresh token")
	}

	if err := s.userRepo.UpdateLastLoginAt(ctx, user.ID); err != nil {
		log.Warn().Err(err).Msg("failed to update last login time")
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenValue,
		ExpiresIn:    int(s.jwt.GetExpiration().Seconds()),
		TokenType:    "Bearer",
		User:         user,
	}, nil
}

// RefreshTokenResult 刷新Token结果
type RefreshTokenResult struct {
	AccessToken string
	ExpiresIn   int
	TokenType   string
}

// RefreshToken 刷新Access Token
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenValue string) (*RefreshTokenResult, error) {
	refreshToken, err := s.refreshTokenRepo.FindByToken(ctx, refreshTokenValue)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if refreshToken.IsExpired() {
		_ = s.refreshTokenRepo.DeleteByToken(ctx, refreshTokenValue)
		return nil, ErrExpiredToken
	}

	user, err := s.userRepo.FindByID(ctx, refreshToken.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	accessToken, err := s.jwt.GenerateToken(user.ID, user.Username, user.IsSuperuser)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate access token")
		return nil, errors.New("failed to generate token")
	}

	return &RefreshTokenResult{
		AccessToken: accessToken,
		ExpiresIn:   int(s.jwt.GetExpiration().Seconds()),
		TokenType:   "Bearer",
	}, nil
}

// Logout 退出登录
func (s *AuthService) Logout(ctx context.Context, refreshTokenValue string) error {
	return s.refreshTokenRepo.DeleteByToken(ctx, refreshTokenValue)
}

// ResolveUser 按用户名查询用户，优先读缓存
func (s *AuthService) ResolveUser(ctx context.Context, username string) (*auth.User, error) {
	key := cache.UserCacheKey(username)
	if s.cache != nil {
		var cached auth.User
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Str("username", username).Msg("user cache read failed")
		}
	}

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, user, s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("username", username).Msg("user cache write failed")
		}
	}
	return user, nil
}

// ValidateToken 验证Access Token并返回用户信息
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*auth.User, error) {
	claims, err := s.jwt.ValidateToken(tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	user, err := s.ResolveUser(ctx, claims.Username())
	if err != nil {
		return nil, err
	}
	// 用户名被删除后重新注册，旧 Token 不能冒用新用户
	if user.ID != claims.UserID {
		return nil, ErrInvalidToken
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}
