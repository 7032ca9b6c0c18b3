package storage

import (
	"context"
	"fmt"

	"github.com/any-hub/nuget-hub/internal/config"
)

// New 根据 [Storage].Type 选择实现，进程内只调用一次。
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case config.StorageFilesystem, "":
		return NewFileStore(cfg.Path)
	case config.StorageS3:
		return NewS3Store(ctx, cfg)
	case config.StorageNull:
		return NewNullStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}
