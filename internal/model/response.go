package model

import "time"

// LLMResponse 对话响应
type LLMResponse struct {
	ResponseID    string      `json:"response_id"`
	Request       LLMRequest  `json:"request"`
	ResponseText  string      `json:"response_text"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   time.Time   `json:"completed_at"`
	ElapsedTimeMs float64     `json:"elapsed_time_ms"`
	ModelName     string      `json:"model_name"`
	FinishReason  string      `json:"finish_reason,omitempty"`
	Usage         *TokenUsage `json:"usage,omitempty"`
}

// TokenUsage Token 使用统计
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChunkType 流式片段类型
type ChunkType string

const (
	ChunkTypeContent ChunkType = "content"
	ChunkTypeError   ChunkType = "error"
)

// StreamChunk 流式对话片段（NDJSON 每行一个）
type StreamChunk struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Type      ChunkType `json:"type"`
	Kind      string    `json:"kind,omitempty"` // 仅错误片段：错误类别
}
