package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultOllamaURL = "http://localhost:11434"
	maxLineSize      = 1 << 20
	maxErrorBody     = 512
)

// OllamaBackend Ollama /api/chat 后端
type OllamaBackend struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewOllamaBackend 创建 Ollama 后端
// timeout 只作用于单次请求；流式请求只受 context 约束
func NewOllamaBackend(baseURL string, timeout time.Duration) *OllamaBackend {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 120 * time.Second,
			MaxIdleConnsPerHost:   16,
		},
	}

	return &OllamaBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		client:  client,
	}
}

// Name 后端名称
func (b *OllamaBackend) Name() string {
	return "ollama"
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaStreamLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Generate 单次推理
// 响应体按通用 JSON 解码：对象进入 Fields 分支，其他值进入 Unrecognized 分支
func (b *OllamaBackend) Generate(ctx context.Context, req *Request) (Result, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.post(ctx, req, false)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrMalformed, err)
	}

	if fields, ok := payload.(map[string]any); ok {
		return FieldsResult(fields), nil
	}
	return UnrecognizedResult(jsonTypeName(payload)), nil
}

// Stream 流式推理
func (b *OllamaBackend) Stream(ctx context.Context, req *Request) (TokenStream, error) {
	resp, err := b.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &ollamaStream{body: resp.Body, scanner: scanner}, nil
}

func (b *OllamaBackend) post(ctx context.Context, req *Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
		Options:  req.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return resp, nil
}

// ollamaStream 逐行读取 NDJSON，不做预读
type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	sawDone bool // 收到 done=true 才算正常结束
}

func (s *ollamaStream) Recv() (string, error) {
	for !s.done {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return "", fmt.Errorf("%w: read stream: %v", ErrUnavailable, err)
			}
			s.done = true
			if !s.sawDone {
				return "", fmt.Errorf("%w: stream ended before done", ErrUnavailable)
			}
			break
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaStreamLine
		if err := json.Unmarshal(line, &chunk); err != nil {
			log.Warn().Err(err).Str("line", truncate(string(line), 200)).Msg("skipping non-JSON stream line")
			continue
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, chunk.Error)
		}
		if chunk.Done {
			s.done = true
			s.sawDone = true
		}
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	s.done = true
	return s.body.Close()
}

// jsonTypeName 通用 JSON 值的类型描述
func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
