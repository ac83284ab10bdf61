package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	// MockModelName mock 后端固定的模型名
	MockModelName       = "mock-qa-v1"
	defaultMockFallback = "I'm sorry, I don't have a predefined answer for that."
)

// defaultMockAnswers 内置问答，key 为小写问题
var defaultMockAnswers = map[string]string{
	"hello":                          "Hello! How can I help you today?",
	"hi":                             "Hi there! What would you like to talk about?",
	"what is your name?":             "I'm a mock assistant used for local development.",
	"how are you?":                   "I'm just a program, but I'm running smoothly. Thanks for asking!",
	"tell me a joke":                 "Why don't scientists trust atoms? Because they make up everything! (Mock Joke)",
	"what is the capital of france?": "The capital of France is Paris.",
}

// MockBackend 预置问答后端，用于本地开发和测试
type MockBackend struct {
	answers      map[string]string
	fallback     string
	charInterval time.Duration
}

// NewMockBackend 创建 mock 后端
// answers 为 nil 时使用内置问答；charsPerSecond <= 0 表示流式输出不延迟
func NewMockBackend(answers map[string]string, fallback string, charsPerSecond float64) *MockBackend {
	if answers == nil {
		answers = defaultMockAnswers
	}
	normalized := make(map[string]string, len(answers))
	for q, a := range answers {
		normalized[normalizeQuestion(q)] = a
	}

	if fallback == "" {
		fallback = defaultMockFallback
	}

	var interval time.Duration
	if charsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / charsPerSecond)
	}

	return &MockBackend{
		answers:      normalized,
		fallback:     fallback,
		charInterval: interval,
	}
}

// LoadMockAnswers 从 JSON 文件加载问答 {"question": "answer"}
func LoadMockAnswers(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mock answers: %w", err)
	}
	var answers map[string]string
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parse mock answers: %w", err)
	}
	return answers, nil
}

// Name 后端名称
func (b *MockBackend) Name() string {
	return "mock"
}

// Answer 按最后一条用户消息查找回复
func (b *MockBackend) Answer(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		if answer, ok := b.answers[normalizeQuestion(messages[i].Content)]; ok {
			return answer
		}
		break
	}
	return b.fallback
}

// Generate 单次推理
func (b *MockBackend) Generate(ctx context.Context, req *Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return CompletionResult(Completion{
		Content:      b.Answer(req.Messages),
		Model:        MockModelName,
		FinishReason: "stop",
	}), nil
}

// Stream 按单词切分输出，保留空白
func (b *MockBackend) Stream(ctx context.Context, req *Request) (TokenStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &mockStream{
		ctx:      ctx,
		words:    strings.SplitAfter(b.Answer(req.Messages), " "),
		interval: b.charInterval,
	}, nil
}

type mockStream struct {
	ctx      context.Context
	words    []string
	pos      int
	interval time.Duration
	closed   bool
}

func (s *mockStream) Recv() (string, error) {
	for s.pos < len(s.words) && !s.closed {
		word := s.words[s.pos]
		s.pos++
		if word == "" {
			continue
		}

		if s.interval > 0 {
			timer := time.NewTimer(s.interval * time.Duration(len(word)))
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return "", s.ctx.Err()
			case <-timer.C:
			}
		} else if err := s.ctx.Err(); err != nil {
			return "", err
		}
		return word, nil
	}
	return "", io.EOF
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
