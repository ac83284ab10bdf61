package storagefactory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"lime/internal/config"
	"lime/internal/pkg/storage"
	"lime/internal/pkg/storage/local"
	"lime/internal/pkg/storage/oss"
)

// NewStorage 按 storage.type 创建归档用的对象存储
func NewStorage(ctx context.Context, cfg *config.StorageConfig) (storage.Storage, error) {
	var (
		st  storage.Storage
		err error
	)

	switch storage.StorageType(cfg.Type) {
	case storage.StorageTypeLocal:
		if cfg.Local == nil || cfg.Local.BasePath == "" {
			return nil, errors.New("storage.local.base_path is required")
		}
		st, err = local.NewLocalStorage(cfg.Local.BasePath, cfg.Local.BaseURL)
	case storage.StorageTypeOSS:
		if cfg.OSS == nil || cfg.OSS.Bucket == "" {
			return nil, errors.New("storage.oss.bucket is required")
		}
		st, err = oss.NewOSSStorage(cfg.OSS.Endpoint, cfg.OSS.Bucket, cfg.OSS.AccessKeyID, cfg.OSS.AccessKeySecret)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.Type, err)
	}

	log.Debug().Str("type", st.GetStorageType()).Msg("archive storage ready")
	return st, nil
}
