package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lime/internal/config"
	"lime/internal/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "lime",
	Short: "Lime - LLM chat backend",
	Long: `Lime is a chat backend for locally hosted language models.
It manages users and conversation sessions, proxies prompts to an
inference server and keeps conversation history in Redis.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./configs/config.yaml)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.lime")
	}

	// 环境变量设置
	viper.SetEnvPrefix("LIME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 设置默认值
	setDefaults()

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	// 反序列化到结构体
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	log.Debug().Str("config_file", viper.ConfigFileUsed()).Msg("configuration loaded")
}

func setDefaults() {
	// Server
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "0s")

	// AI
	viper.SetDefault("ai.provider", "ollama")
	viper.SetDefault("ai.base_url", "http://localhost:11434")
	viper.SetDefault("ai.model", "deepseek-r1:14b")
	viper.SetDefault("ai.timeout", "60s")
	viper.SetDefault("ai.mock.fallback_text", "I'm sorry, I don't have a predefined answer for that.")
	viper.SetDefault("ai.mock.chars_per_second", 0)

	// Chat
	viper.SetDefault("chat.persist_partial_streams", false)
	viper.SetDefault("chat.estimate_usage", true)
	viper.SetDefault("chat.save_timeout", "10s")

	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.time_format", "RFC3339")

	// MongoDB
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "lime")
	viper.SetDefault("mongo.max_pool_size", 100)
	viper.SetDefault("mongo.min_pool_size", 10)

	// Redis
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.history_prefix", "session:")
	viper.SetDefault("redis.history_ttl", "0s")

	// Session registry
	viper.SetDefault("registry.driver", "sqlite")
	viper.SetDefault("registry.dsn", "data/lime.db")

	// Auth
	viper.SetDefault("auth.access_token_expiry", "30m")
	viper.SetDefault("auth.refresh_token_expiry", "168h")
	viper.SetDefault("auth.require_activation", false)
	viper.SetDefault("auth.user_cache_ttl", "5m")

	// Storage / archive
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local.base_path", "data/storage")
	viper.SetDefault("storage.local.base_url", "http://localhost:8080/storage")
	viper.SetDefault("archive.enabled", true)
	viper.SetDefault("archive.prefix", "responses")
}

// GetConfig returns the global configuration
func GetConfig() *config.Config {
	return cfg
}
