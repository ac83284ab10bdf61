package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"lime/internal/model"
	"lime/internal/pkg/storage"
)

const archiveTimeLayout = "20060102T150405.000000Z"

// ResponseArchiver 把完整的 LLMResponse 以 JSON 文件写入对象存储
type ResponseArchiver struct {
	storage storage.Storage
	prefix  string
}

// NewResponseArchiver 创建归档器
func NewResponseArchiver(st storage.Storage, prefix string) *ResponseArchiver {
	return &ResponseArchiver{storage: st, prefix: prefix}
}

// ArchiveKey 归档文件 key：<prefix>/<时间戳>_<response_id>.json，按文件名排序即按时间排序
func (a *ResponseArchiver) ArchiveKey(resp *model.LLMResponse) string {
	name := fmt.Sprintf("%s_%s.json", resp.CompletedAt.UTC().Format(archiveTimeLayout), resp.ResponseID)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Archive 写入归档，返回存储位置
func (a *ResponseArchiver) Archive(ctx context.Context, resp *model.LLMResponse) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	return a.storage.Upload(ctx, a.ArchiveKey(resp), bytes.NewReader(data), "application/json")
}
