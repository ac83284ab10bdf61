package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("storage: object not found")

// Storage 对象存储接口（响应归档使用）
type Storage interface {
	// Upload 写入对象，返回可访问的 URL
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error)

	// Download 读取对象
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除对象，不存在视为成功
	Delete(ctx context.Context, key string) error

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// GetStorageType 获取存储类型
	GetStorageType() string
}

// StorageType 存储类型
type StorageType string

const (
	StorageTypeLocal StorageType = "local" // 本地文件系统
	StorageTypeOSS   StorageType = "oss"   // 阿里云OSS
)
