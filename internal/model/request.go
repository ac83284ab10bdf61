package model

// LLMRequest 对话请求
type LLMRequest struct {
	Prompt    string         `json:"prompt" binding:"required"`
	SessionID string         `json:"session_id" binding:"required"`
	ModelName string         `json:"model_name,omitempty"`
	Options   map[string]any `json:"options,omitempty"` // 原样透传给推理后端
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Title string `json:"title,omitempty" binding:"max=255"`
}

// RenameSessionRequest 重命名会话请求
type RenameSessionRequest struct {
	Title string `json:"title" binding:"required,max=255"`
}

// ListSessionsQuery 会话列表分页参数
type ListSessionsQuery struct {
	Skip  int `form:"skip" binding:"min=0"`
	Limit int `form:"limit,default=100" binding:"min=1,max=200"`
}
