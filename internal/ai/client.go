package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"lime/internal/ai/component"
	"lime/internal/config"
)

// Client AI 能力层客户端
// 职责: 按配置选择推理后端，统一日志和错误类别
type Client struct {
	backend Backend
}

// NewClient 按 provider 创建客户端
func NewClient(ctx context.Context, cfg *config.AIConfig) (*Client, error) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(backend), nil
}

// Wrap 用任意后端构造客户端
func Wrap(backend Backend) *Client {
	return &Client{backend: backend}
}

func newBackend(ctx context.Context, cfg *config.AIConfig) (Backend, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaBackend(cfg.BaseURL, cfg.Timeout), nil
	case "openai", "azure", "ark":
		if cfg.APIKey == "" {
			log.Warn().Str("provider", cfg.Provider).Msg("AI API key not configured")
		}
		cm, err := component.NewChatModel(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewEinoBackend(cfg.Provider, cm), nil
	case "mock":
		var answers map[string]string
		if cfg.Mock.QAFile != "" {
			loaded, err := LoadMockAnswers(cfg.Mock.QAFile)
			if err != nil {
				return nil, err
			}
			answers = loaded
		}
		return NewMockBackend(answers, cfg.Mock.FallbackText, cfg.Mock.CharsPerSecond), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
	}
}

// Name 后端名称
func (c *Client) Name() string {
	return c.backend.Name()
}

// Generate 单次推理
func (c *Client) Generate(ctx context.Context, req *Request) (Result, error) {
	start := time.Now()
	res, err := c.backend.Generate(ctx, req)
	if err != nil {
		err = classify(err)
		log.Error().Err(err).
			Str("backend", c.backend.Name()).
			Str("model", req.Model).
			Dur("elapsed", time.Since(start)).
			Msg("inference request failed")
		return Result{}, err
	}

	log.Debug().
		Str("backend", c.backend.Name()).
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Str("result", res.Kind.String()).
		Dur("elapsed", time.Since(start)).
		Msg("inference request completed")
	return res, nil
}

// Stream 流式推理
func (c *Client) Stream(ctx context.Context, req *Request) (TokenStream, error) {
	stream, err := c.backend.Stream(ctx, req)
	if err != nil {
		err = classify(err)
		log.Error().Err(err).
			Str("backend", c.backend.Name()).
			Str("model", req.Model).
			Msg("failed to open inference stream")
		return nil, err
	}
	return &classifiedStream{TokenStream: stream}, nil
}

type classifiedStream struct {
	TokenStream
}

func (s *classifiedStream) Recv() (string, error) {
	chunk, err := s.TokenStream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", classify(err)
	}
	return chunk, nil
}

// classify 非 context 错误统一归为 ErrUnavailable
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrMalformed):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
