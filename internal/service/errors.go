package service

import (
	"context"
	"errors"
)

// 对话相关错误类别，handler 层用 errors.Is 判断
var (
	ErrInvalidIdentifier   = errors.New("invalid session identifier")
	ErrSessionNotFound     = errors.New("session not found")
	ErrForbidden           = errors.New("session belongs to another user")
	ErrUpstreamUnavailable = errors.New("inference backend unavailable")
	ErrUpstreamMalformed   = errors.New("inference backend returned an unexpected response")
	ErrPersistence         = errors.New("failed to persist conversation data")
)

// 错误类别标签（响应体 kind 字段）
const (
	KindInvalidIdentifier   = "invalid_identifier"
	KindNotFound            = "not_found"
	KindForbidden           = "forbidden"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindUpstreamMalformed   = "upstream_malformed"
	KindPersistence         = "persistence_failure"
	KindCanceled            = "canceled"
	KindInternal            = "internal"
)

// kindMessages 对外展示的通用消息，不包含后端地址等内部细节
var kindMessages = map[string]string{
	KindInvalidIdentifier:   "Invalid session identifier",
	KindNotFound:            "Session not found",
	KindForbidden:           "Session belongs to another user",
	KindUpstreamUnavailable: "Inference backend unavailable",
	KindUpstreamMalformed:   "Inference backend returned an unexpected response",
	KindPersistence:         "Failed to persist conversation",
	KindCanceled:            "Request canceled",
	KindInternal:            "Internal Server Error",
}

// PublicMessage 错误类别对应的对外消息
func PublicMessage(kind string) string {
	if msg, ok := kindMessages[kind]; ok {
		return msg
	}
	return kindMessages[KindInternal]
}

// upstreamError 推理后端错误，同时匹配 ErrUpstreamUnavailable 与原始错误
// Error() 只保留原始文本，避免重复前缀
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string { return e.err.Error() }

func (e *upstreamError) Unwrap() []error { return []error{ErrUpstreamUnavailable, e.err} }

func upstreamUnavailable(err error) error {
	return &upstreamError{err: err}
}

// ErrorKind 返回错误对应的类别标签
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIdentifier):
		return KindInvalidIdentifier
	case errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrUpstreamMalformed):
		return KindUpstreamMalformed
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}
