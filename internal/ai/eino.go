package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cast"
)

// EinoBackend 基于 eino ChatModel 的后端（openai / azure / ark）
type EinoBackend struct {
	name  string
	model model.BaseChatModel
}

// NewEinoBackend 包装 eino ChatModel
func NewEinoBackend(name string, cm model.BaseChatModel) *EinoBackend {
	return &EinoBackend{name: name, model: cm}
}

// Name 后端名称
func (b *EinoBackend) Name() string {
	return b.name
}

// Generate 单次推理
func (b *EinoBackend) Generate(ctx context.Context, req *Request) (Result, error) {
	msg, err := b.model.Generate(ctx, toSchemaMessages(req.Messages), callOptions(req)...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if msg == nil {
		return Result{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	completion := Completion{
		Content: msg.Content,
		Model:   req.Model,
	}
	if meta := msg.ResponseMeta; meta != nil {
		completion.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			completion.Usage = &Usage{
				PromptTokens:     meta.Usage.PromptTokens,
				CompletionTokens: meta.Usage.CompletionTokens,
			}
		}
	}
	return CompletionResult(completion), nil
}

// Stream 流式推理
func (b *EinoBackend) Stream(ctx context.Context, req *Request) (TokenStream, error) {
	sr, err := b.model.Stream(ctx, toSchemaMessages(req.Messages), callOptions(req)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &einoStream{reader: sr}, nil
}

type einoStream struct {
	reader *schema.StreamReader[*schema.Message]
}

func (s *einoStream) Recv() (string, error) {
	for {
		msg, err := s.reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if msg != nil && msg.Content != "" {
			return msg.Content, nil
		}
	}
}

func (s *einoStream) Close() error {
	s.reader.Close()
	return nil
}

func toSchemaMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

// callOptions 把透传的 options 映射为 eino 调用参数
// 值类型宽松，数字可以是字符串；无法转换的键忽略
func callOptions(req *Request) []model.Option {
	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}

	for key, raw := range req.Options {
		switch key {
		case "temperature":
			if v, err := cast.ToFloat32E(raw); err == nil {
				opts = append(opts, model.WithTemperature(v))
			}
		case "top_p":
			if v, err := cast.ToFloat32E(raw); err == nil {
				opts = append(opts, model.WithTopP(v))
			}
		case "max_tokens", "num_predict":
			if v, err := cast.ToIntE(raw); err == nil && v > 0 {
				opts = append(opts, model.WithMaxTokens(v))
			}
		case "stop":
			if v, err := cast.ToStringSliceE(raw); err == nil && len(v) > 0 {
				opts = append(opts, model.WithStop(v))
			}
		}
	}
	return opts
}
