package config

import (
	"errors"
	"fmt"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	AI       AIConfig       `mapstructure:"ai"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Log      LogConfig      `mapstructure:"log"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Registry RegistryConfig `mapstructure:"registry"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 流式接口需要足够大，0 表示不限制
}

// AIConfig 推理后端配置
type AIConfig struct {
	Provider string          `mapstructure:"provider"` // ollama, openai, azure, ark, mock
	APIKey   string          `mapstructure:"api_key"`
	Model    string          `mapstructure:"model"` // 默认模型，请求未指定 model_name 时使用
	BaseURL  string          `mapstructure:"base_url"`
	Timeout  time.Duration   `mapstructure:"timeout"` // 单次（非流式）请求超时
	Options  AIOptionsConfig `mapstructure:"options"`
	Mock     MockConfig      `mapstructure:"mock"`
}

// AIOptionsConfig 模型默认参数
type AIOptionsConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TopP        float64 `mapstructure:"top_p"`
}

// MockConfig mock 推理后端（预置问答）
type MockConfig struct {
	QAFile         string  `mapstructure:"qa_file"`          // 问答 JSON 文件，key 为问题（不区分大小写）
	FallbackText   string  `mapstructure:"fallback_text"`    // 未命中时的回复
	CharsPerSecond float64 `mapstructure:"chars_per_second"` // 模拟输出速度，0 表示不延迟
}

// ChatConfig 对话编排配置
type ChatConfig struct {
	SystemPrompt          string        `mapstructure:"system_prompt"`
	PersistPartialStreams bool          `mapstructure:"persist_partial_streams"` // 客户端断开时是否保存已生成的部分（标记 truncated）
	EstimateUsage         bool          `mapstructure:"estimate_usage"`          // 后端未返回 token 数时用 tiktoken 估算
	SaveTimeout           time.Duration `mapstructure:"save_timeout"`            // 流式结束后保存历史的超时
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	HistoryPrefix string        `mapstructure:"history_prefix"` // 对话历史 list 的 key 前缀
	HistoryTTL    time.Duration `mapstructure:"history_ttl"`    // 0 表示不过期
}

// RegistryConfig 会话元数据存储配置
type RegistryConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, mongo
	DSN    string `mapstructure:"dsn"`    // sqlite 文件路径或 DSN
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret          string        `mapstructure:"jwt_secret"`           // JWT密钥
	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry"`  // Access Token过期时间
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry"` // Refresh Token过期时间
	RequireActivation  bool          `mapstructure:"require_activation"`   // 新注册用户是否需要管理员激活
	UserCacheTTL       time.Duration `mapstructure:"user_cache_ttl"`       // 认证中间件用户缓存时间
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string       `mapstructure:"type"` // local, oss
	Local *LocalConfig `mapstructure:"local,omitempty"`
	OSS   *OSSConfig   `mapstructure:"oss,omitempty"`
}

// LocalConfig 本地文件系统配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"` // 基础路径
	BaseURL  string `mapstructure:"base_url"`  // 基础URL（用于生成访问URL）
}

// OSSConfig 阿里云OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`          // OSS端点
	Bucket          string `mapstructure:"bucket"`            // Bucket名称
	AccessKeyID     string `mapstructure:"access_key_id"`     // AccessKey ID
	AccessKeySecret string `mapstructure:"access_key_secret"` // AccessKey Secret
}

// ArchiveConfig 响应归档配置
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"` // 存储 key 前缀
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	validProviders := map[string]bool{"ollama": true, "openai": true, "azure": true, "ark": true, "mock": true}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("unsupported AI provider: %s", c.AI.Provider)
	}

	switch c.Registry.Driver {
	case "sqlite":
		if c.Registry.DSN == "" {
			return errors.New("registry.dsn is required for sqlite driver")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri is required for mongo registry driver")
		}
	default:
		return fmt.Errorf("unsupported registry driver: %s", c.Registry.Driver)
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}

	return nil
}
