package ai

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable 推理服务不可达或返回错误状态
	ErrUnavailable = errors.New("inference backend unavailable")
	// ErrMalformed 推理服务返回了无法解析的内容
	ErrMalformed = errors.New("inference backend returned malformed data")
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 推理请求
type Request struct {
	Model    string
	Messages []Message
	Options  map[string]any // 原样透传
}

// Usage token 统计，后端未返回时为 nil
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completion 已解析的完整回复
type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *Usage
}

// Kind Result 的分支
type Kind int

const (
	// KindCompletion 后端返回了已知结构
	KindCompletion Kind = iota
	// KindFields 后端返回了 JSON 对象，字段由调用方按约定读取
	KindFields
	// KindUnrecognized 后端返回了非对象的 JSON 值
	KindUnrecognized
)

// String 分支名
func (k Kind) String() string {
	switch k {
	case KindCompletion:
		return "completion"
	case KindFields:
		return "fields"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Result 单次推理结果
// 只有与 Kind 对应的字段有效
type Result struct {
	Kind       Kind
	Completion Completion
	Fields     map[string]any
	// TypeName 未识别结果的类型描述，例如 "array" / "string"
	TypeName string
}

// CompletionResult 构造已解析结果
func CompletionResult(c Completion) Result {
	return Result{Kind: KindCompletion, Completion: c}
}

// FieldsResult 构造字段结果
func FieldsResult(fields map[string]any) Result {
	return Result{Kind: KindFields, Fields: fields}
}

// UnrecognizedResult 构造未识别结果
func UnrecognizedResult(typeName string) Result {
	return Result{Kind: KindUnrecognized, TypeName: typeName}
}

// TokenStream 拉取式的流式输出
// Recv 在正常结束时返回 io.EOF；调用方不再读取时必须 Close 以释放上游连接
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Backend 推理后端
type Backend interface {
	Name() string
	Generate(ctx context.Context, req *Request) (Result, error)
	Stream(ctx context.Context, req *Request) (TokenStream, error)
}
