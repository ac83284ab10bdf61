package component

import (
	"context"
	"fmt"

	arkext "github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"lime/internal/config"
)

const defaultArkBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

// NewChatModel 按 provider 创建 eino ChatModel（openai / azure / ark）
// ollama 与 mock 走 ai 包自己的后端，不经过这里
func NewChatModel(ctx context.Context, cfg *config.AIConfig) (model.ChatModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ai.model is required for provider %s", cfg.Provider)
	}

	p := newSampling(&cfg.Options)
	switch cfg.Provider {
	case "openai", "azure":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			ByAzure:     cfg.Provider == "azure",
			Timeout:     cfg.Timeout,
			Temperature: p.temperature,
			TopP:        p.topP,
			MaxTokens:   p.maxTokens,
		})
	case "ark":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultArkBaseURL
		}
		return arkext.NewChatModel(ctx, &arkext.ChatModelConfig{
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			BaseURL:     baseURL,
			Temperature: p.temperature,
			TopP:        p.topP,
			MaxTokens:   p.maxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

// sampling 配置中的默认采样参数，未配置（0）时不下发
type sampling struct {
	temperature *float32
	topP        *float32
	maxTokens   *int
}

func newSampling(o *config.AIOptionsConfig) sampling {
	var p sampling
	if o.Temperature > 0 {
		t := float32(o.Temperature)
		p.temperature = &t
	}
	if o.TopP > 0 {
		v := float32(o.TopP)
		p.topP = &v
	}
	if o.MaxTokens > 0 {
		n := o.MaxTokens
		p.maxTokens = &n
	}
	return p
}
