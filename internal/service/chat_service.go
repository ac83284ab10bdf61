package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"

	"lime/internal/ai"
	"lime/internal/model"
	"lime/internal/pkg/id"
)

const defaultSaveTimeout = 10 * time.Second

// HistoryManager 对话历史读写
type HistoryManager interface {
	GetHistory(ctx context.Context, sessionID, userID string) ([]*model.ConversationTurn, error)
	SaveTurn(ctx context.Context, sessionID, userID, userMessage, responseText string, opts ...TurnOption) (*model.ConversationTurn, error)
}

// Archiver 响应归档
type Archiver interface {
	Archive(ctx context.Context, resp *model.LLMResponse) (string, error)
}

// ChatOptions 对话编排参数
type ChatOptions struct {
	DefaultModel          string
	SystemPrompt          string
	PersistPartialStreams bool
	SaveTimeout           time.Duration
	// Counter 后端未返回 token 数时用于估算，nil 表示不估算
	Counter ai.TokenCounter
}

// ChatService 对话服务 - 业务逻辑层
// 职责: 编排历史读取、推理调用、响应归一化和持久化
type ChatService struct {
	history  HistoryManager
	backend  ai.Backend
	archiver Archiver
	opts     ChatOptions
}

// NewChatService 创建对话服务，archiver 可以为 nil
func NewChatService(history HistoryManager, backend ai.Backend, archiver Archiver, opts ChatOptions) *ChatService {
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	return &ChatService{
		history:  history,
		backend:  backend,
		archiver: archiver,
		opts:     opts,
	}
}

// ArchiveOutcome 归档结果（不影响主流程）
type ArchiveOutcome struct {
	Attempted bool
	Location  string
	Err       error
}

// ChatResult 单次对话结果
// Response 为主结果；Degraded 非 nil 表示上游返回了无法识别的结构，Response 为降级回复
type ChatResult struct {
	Response *model.LLMResponse
	Degraded error
	Archive  ArchiveOutcome
}

// Chat 单次对话
func (s *ChatService) Chat(ctx context.Context, userID string, req *model.LLMRequest) (*ChatResult, error) {
	logger := log.With().Str("session_id", req.SessionID).Str("user_id", userID).Logger()

	turns, err := s.loadHistory(ctx, req.SessionID, userID)
	if err != nil {
		return nil, err
	}

	aiReq := s.buildRequest(req, turns)
	createdAt := time.Now().UTC()

	start := time.Now()
	res, err := s.backend.Generate(ctx, aiReq)
	if err != nil && !errors.Is(err, ai.ErrMalformed) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Error().Err(err).Str("model", aiReq.Model).Msg("inference call failed")
		return nil, upstreamUnavailable(err)
	}

	var norm normalized
	if err != nil {
		norm = degradedResponse(aiReq.Model, fmt.Sprintf("Unexpected response from inference backend: %v", err))
	} else {
		norm = normalize(res, aiReq.Model)
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	resp := &model.LLMResponse{
		ResponseID:    id.New(),
		Request:       *req,
		ResponseText:  norm.text,
		CreatedAt:     createdAt,
		CompletedAt:   time.Now().UTC(),
		ElapsedTimeMs: elapsed,
		ModelName:     norm.model,
		FinishReason:  norm.finishReason,
		Usage:         s.usage(aiReq, norm),
	}

	result := &ChatResult{Response: resp}
	if norm.degraded {
		result.Degraded = ErrUpstreamMalformed
		logger.Warn().Str("model", aiReq.Model).Str("response_text", norm.text).Msg("degraded inference response")
	}

	if _, err := s.history.SaveTurn(ctx, req.SessionID, userID, req.Prompt, resp.ResponseText); err != nil {
		logger.Error().Err(err).Msg("failed to save turn")
		return nil, err
	}

	result.Archive = s.archive(ctx, resp)

	logger.Info().
		Str("response_id", resp.ResponseID).
		Str("model", resp.ModelName).
		Float64("elapsed_ms", elapsed).
		Msg("chat completed")
	return result, nil
}

// archive 尽力而为，失败只记录日志
func (s *ChatService) archive(ctx context.Context, resp *model.LLMResponse) ArchiveOutcome {
	if s.archiver == nil {
		return ArchiveOutcome{}
	}

	location, err := s.archiver.Archive(ctx, resp)
	if err != nil {
		log.Warn().Err(err).Str("response_id", resp.ResponseID).Msg("failed to archive response")
		return ArchiveOutcome{Attempted: true, Err: err}
	}
	return ArchiveOutcome{Attempted: true, Location: location}
}

// loadHistory 会话不存在视为没有历史
func (s *ChatService) loadHistory(ctx context.Context, sessionID, userID string) ([]*model.ConversationTurn, error) {
	turns, err := s.history.GetHistory(ctx, sessionID, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	return turns, err
}

func (s *ChatService) buildRequest(req *model.LLMRequest, turns []*model.ConversationTurn) *ai.Request {
	modelName := req.ModelName
	if modelName == "" {
		modelName = s.opts.DefaultModel
	}
	return &ai.Request{
		Model:    modelName,
		Messages: BuildMessages(s.opts.SystemPrompt, turns, req.Prompt),
		Options:  req.Options,
	}
}

// BuildMessages 历史按 user / assistant 交替展开，新的提问放在最后
func BuildMessages(systemPrompt string, turns []*model.ConversationTurn, prompt string) []ai.Message {
	messages := make([]ai.Message, 0, len(turns)*2+2)
	if systemPrompt != "" {
		messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})
	}
	for _, t := range turns {
		messages = append(messages,
			ai.Message{Role: ai.RoleUser, Content: t.UserMessage},
			ai.Message{Role: ai.RoleAssistant, Content: t.LLMResponse},
		)
	}
	return append(messages, ai.Message{Role: ai.RoleUser, Content: prompt})
}

func (s *ChatService) usage(req *ai.Request, norm normalized) *model.TokenUsage {
	u := norm.usage
	if u == nil {
		if s.opts.Counter == nil {
			return nil
		}
		u = &ai.Usage{CompletionTokens: s.opts.Counter.Count(norm.text)}
		for _, m := range req.Messages {
			u.PromptTokens += s.opts.Counter.Count(m.Content)
		}
	}
	return &model.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.PromptTokens + u.CompletionTokens,
	}
}

// normalized 归一化后的推理结果
type normalized struct {
	text         string
	model        string
	finishReason string
	usage        *ai.Usage
	degraded     bool
}

// normalize 把 ai.Result 的各个分支统一为同一结构，模型名缺失时沿用请求的模型
func normalize(res ai.Result, requestModel string) normalized {
	switch res.Kind {
	case ai.KindCompletion:
		c := res.Completion
		return normalized{
			text:         c.Content,
			model:        firstNonEmpty(c.Model, requestModel),
			finishReason: c.FinishReason,
			usage:        c.Usage,
		}
	case ai.KindFields:
		return normalizeFields(res.Fields, requestModel)
	default:
		typeName := res.TypeName
		if typeName == "" {
			typeName = "unknown"
		}
		return degradedResponse(requestModel, fmt.Sprintf("Unexpected response type from inference backend: %s", typeName))
	}
}

func normalizeFields(fields map[string]any, requestModel string) normalized {
	text, ok := fieldText(fields)
	if !ok {
		return degradedResponse(requestModel, "Unexpected response type from inference backend: object without message content")
	}

	n := normalized{
		text:  text,
		model: firstNonEmpty(cast.ToString(fields["model"]), requestModel),
		finishReason: firstNonEmpty(
			cast.ToString(fields["done_reason"]),
			cast.ToString(fields["finish_reason"]),
		),
	}

	// ollama: prompt_eval_count / eval_count；openai 兼容: usage{prompt_tokens, completion_tokens}
	if prompt, err := cast.ToIntE(fields["prompt_eval_count"]); err == nil && fields["prompt_eval_count"] != nil {
		n.usage = &ai.Usage{PromptTokens: prompt, CompletionTokens: cast.ToInt(fields["eval_count"])}
	} else if usage, ok := fields["usage"].(map[string]any); ok {
		n.usage = &ai.Usage{
			PromptTokens:     cast.ToInt(usage["prompt_tokens"]),
			CompletionTokens: cast.ToInt(usage["completion_tokens"]),
		}
	}
	return n
}

// fieldText 依次尝试 message.content / response / content
func fieldText(fields map[string]any) (string, bool) {
	if msg, ok := fields["message"].(map[string]any); ok {
		if content, ok := msg["content"].(string); ok {
			return content, true
		}
	}
	for _, key := range []string{"response", "content"} {
		if v, ok := fields[key].(string); ok {
			return v, true
		}
	}
	return "", false
}

func degradedResponse(requestModel, text string) normalized {
	return normalized{
		text:     text,
		model:    requestModel,
		degraded: true,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ChatStream 已通过历史与归属校验、尚未开始输出的流式对话
type ChatStream struct {
	svc     *ChatService
	userID  string
	req     *model.LLMRequest
	aiReq   *ai.Request
	started atomic.Bool
}

// StreamOutcome 流式对话结束状态
type StreamOutcome struct {
	Text        string
	Completed   bool
	Canceled    bool
	UpstreamErr error
	Turn        *model.ConversationTurn
	PersistErr  error
}

// OpenStream 读取历史并校验归属；返回错误时调用方尚未输出任何内容
func (s *ChatService) OpenStream(ctx context.Context, userID string, req *model.LLMRequest) (*ChatStream, error) {
	turns, err := s.loadHistory(ctx, req.SessionID, userID)
	if err != nil {
		return nil, err
	}
	return &ChatStream{
		svc:    s,
		userID: userID,
		req:    req,
		aiReq:  s.buildRequest(req, turns),
	}, nil
}

// Run 逐个拉取上游片段并通过 emit 写出
// emit 返回后才读取下一个片段；emit 失败视为客户端已断开
// 每个 ChatStream 只能运行一次，并发的第二次调用直接返回错误
func (cs *ChatStream) Run(ctx context.Context, emit func(model.StreamChunk) error) StreamOutcome {
	if !cs.started.CompareAndSwap(false, true) {
		return StreamOutcome{UpstreamErr: errors.New("stream already consumed")}
	}

	s := cs.svc
	logger := log.With().Str("session_id", cs.req.SessionID).Str("user_id", cs.userID).Logger()

	var out StreamOutcome
	stream, err := s.backend.Stream(ctx, cs.aiReq)
	if err != nil {
		if ctx.Err() != nil {
			out.Canceled = true
			return out
		}
		out.UpstreamErr = upstreamUnavailable(err)
		cs.emitError(emit, out.UpstreamErr)
		logger.Error().Err(err).Str("model", cs.aiReq.Model).Msg("failed to open inference stream")
		return out
	}
	closeStream := sync.OnceValue(stream.Close)
	defer closeStream()

	var text []byte
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				out.Canceled = true
				break
			}
			out.Text = string(text)
			out.UpstreamErr = upstreamUnavailable(err)
			cs.emitError(emit, out.UpstreamErr)
			logger.Error().Err(err).Int("received_bytes", len(text)).Msg("inference stream failed")
			return out
		}

		text = append(text, chunk...)
		if err := emit(model.StreamChunk{SessionID: cs.req.SessionID, Content: chunk, Type: model.ChunkTypeContent}); err != nil {
			out.Canceled = true
			break
		}
		if ctx.Err() != nil {
			out.Canceled = true
			break
		}
	}

	out.Text = string(text)
	if out.Canceled {
		_ = closeStream()
		logger.Info().Int("received_bytes", len(text)).Msg("stream canceled by client")
		if !s.opts.PersistPartialStreams || out.Text == "" {
			return out
		}
		out.Turn, out.PersistErr = cs.persist(ctx, out.Text, WithTruncated())
		return out
	}

	out.Completed = true
	out.Turn, out.PersistErr = cs.persist(ctx, out.Text)
	return out
}

// persist 流式结束后保存，请求 context 可能已取消，使用独立的超时
func (cs *ChatStream) persist(ctx context.Context, text string, opts ...TurnOption) (*model.ConversationTurn, error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cs.svc.opts.SaveTimeout)
	defer cancel()

	turn, err := cs.svc.history.SaveTurn(saveCtx, cs.req.SessionID, cs.userID, cs.req.Prompt, text, opts...)
	if err != nil {
		log.Error().Err(err).Str("session_id", cs.req.SessionID).Msg("failed to save streamed turn")
		return nil, err
	}
	return turn, nil
}

// emitError 错误片段只带类别和通用消息，完整错误只写日志
func (cs *ChatStream) emitError(emit func(model.StreamChunk) error, err error) {
	kind := ErrorKind(err)
	_ = emit(model.StreamChunk{
		SessionID: cs.req.SessionID,
		Content:   PublicMessage(kind),
		Type:      model.ChunkTypeError,
		Kind:      kind,
	})
}
