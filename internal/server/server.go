package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"lime/internal/ai"
	"lime/internal/config"
	"lime/internal/handler"
	authHandler "lime/internal/handler/auth"
	"lime/internal/pkg/cache"
	"lime/internal/pkg/mongodb"
	"lime/internal/pkg/storagefactory"
	"lime/internal/repository"
	authRepo "lime/internal/repository/auth"
	"lime/internal/repository/session"
	"lime/internal/server/middleware"
	"lime/internal/service"
)

const (
	defaultJWTSecret = "default-secret-key-change-in-production"
	shutdownTimeout  = 15 * time.Second
)

// Server HTTP 服务器
type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	mongo    *mongodb.Client
	redis    *cache.RedisCache
	registry session.Registry
}

// Services 路由依赖的业务服务
type Services struct {
	Auth    *service.AuthService
	History *service.HistoryService
	Chat    *service.ChatService
	// Ready 就绪检查依赖
	Ready map[string]handler.Pinger
}

// New 连接外部依赖并创建服务器实例
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	redisCache, err := cache.NewRedisCache(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	mongoClient, err := mongodb.New(ctx, &cfg.Mongo)
	if err != nil {
		_ = redisCache.Close()
		return nil, err
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	srv := &Server{cfg: cfg, mongo: mongoClient, redis: redisCache}
	if err := srv.init(ctx); err != nil {
		srv.close()
		return nil, err
	}
	return srv, nil
}

func (s *Server) init(ctx context.Context) error {
	cfg := s.cfg
	db := s.mongo.Database()

	if err := mongodb.EnsureIndexes(ctx, db, cfg.Registry.Driver == "mongo"); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	switch cfg.Registry.Driver {
	case "mongo":
		s.registry = session.NewMongoRegistry(db)
	default:
		reg, err := session.OpenSQLite(cfg.Registry.DSN)
		if err != nil {
			return fmt.Errorf("open session registry: %w", err)
		}
		s.registry = reg
	}
	log.Info().Str("driver", cfg.Registry.Driver).Msg("session registry ready")

	historySvc := service.NewHistoryService(
		s.registry,
		repository.NewHistoryStore(s.redis.Client(), cfg.Redis.HistoryPrefix, cfg.Redis.HistoryTTL),
	)

	aiClient, err := ai.NewClient(ctx, &cfg.AI)
	if err != nil {
		return fmt.Errorf("init inference client: %w", err)
	}
	log.Info().Str("provider", aiClient.Name()).Str("model", cfg.AI.Model).Msg("inference client ready")

	var archiver service.Archiver
	if cfg.Archive.Enabled {
		st, err := storagefactory.NewStorage(ctx, &cfg.Storage)
		if err != nil {
			return fmt.Errorf("init archive storage: %w", err)
		}
		archiver = service.NewResponseArchiver(st, cfg.Archive.Prefix)
		log.Info().Str("storage", st.GetStorageType()).Str("prefix", cfg.Archive.Prefix).Msg("response archive enabled")
	}

	var counter ai.TokenCounter
	if cfg.Chat.EstimateUsage {
		counter = ai.NewTiktokenCounter()
	}

	chatSvc := service.NewChatService(historySvc, aiClient, archiver, service.ChatOptions{
		DefaultModel:          cfg.AI.Model,
		SystemPrompt:          cfg.Chat.SystemPrompt,
		PersistPartialStreams: cfg.Chat.PersistPartialStreams,
		SaveTimeout:           cfg.Chat.SaveTimeout,
		Counter:               counter,
	})

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = defaultJWTSecret
		log.Warn().Msg("JWT secret not configured, using default (NOT SECURE for production)")
	}
	authSvc := service.NewAuthService(
		authRepo.NewUserRepo(db),
		authRepo.NewRefreshTokenRepo(db),
		s.redis,
		service.AuthOptions{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
			RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
			RequireActivation:  cfg.Auth.RequireActivation,
			UserCacheTTL:       cfg.Auth.UserCacheTTL,
		},
	)

	s.engine = NewEngine(cfg.Server.Mode, &Services{
		Auth:    authSvc,
		History: historySvc,
		Chat:    chatSvc,
		Ready: map[string]handler.Pinger{
			"redis": s.redis,
			"mongo": s.mongo,
		},
	})
	return nil
}

// NewEngine 创建 Gin 引擎并注册路由
func NewEngine(mode string, svcs *Services) *gin.Engine {
	switch mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	setupRoutes(engine, svcs)
	return engine
}

// setupRoutes 设置路由
func setupRoutes(engine *gin.Engine, svcs *Services) {
	// 全局中间件
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler(svcs.Ready)
	engine.GET("/health", healthHandler.Health)
	engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authHdl := authHandler.NewHandler(svcs.Auth)
	chatHdl := handler.NewChatHandler(svcs.Chat)
	sessionHdl := handler.NewSessionHandler(svcs.History)

	v1 := engine.Group("/api/v1")
	{
		// 认证接口（公开）
		v1.POST("/auth/register", authHdl.Register)
		v1.POST("/auth/login", authHdl.Login)
		v1.POST("/auth/token", authHdl.Login)
		v1.POST("/auth/refresh", authHdl.Refresh)

		// 需要认证的接口
		authed := v1.Group("")
		authed.Use(middleware.Auth(svcs.Auth))
		{
			authed.POST("/auth/logout", authHdl.Logout)
			authed.GET("/auth/me", authHdl.GetMe)

			authed.GET("/sessions", sessionHdl.List)
			authed.POST("/sessions", sessionHdl.Create)
			authed.GET("/sessions/:id/history", sessionHdl.History)
			authed.PATCH("/sessions/:id", sessionHdl.Rename)
			authed.DELETE("/sessions/:id", sessionHdl.Delete)

			authed.POST("/chat", chatHdl.Chat)
			authed.POST("/chat/stream", chatHdl.ChatStream)
		}
	}
}

// Run 启动服务器，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 先等待进行中的请求（包括流式对话的收尾保存）结束，再关闭存储连接
		err := srv.Shutdown(shutdownCtx)
		s.close()
		return err
	case err := <-errCh:
		s.close()
		return err
	}
}

func (s *Server) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.registry != nil {
		if err := s.registry.Close(ctx); err != nil {
			log.Error().Err(err).Msg("failed to close session registry")
		}
	}
	if s.mongo != nil {
		if err := s.mongo.Close(ctx); err != nil {
			log.Error().Err(err).Msg("failed to close MongoDB connection")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis connection")
		}
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
