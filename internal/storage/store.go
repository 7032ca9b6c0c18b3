package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/any-hub/nuget-hub/internal/versioning"
)

// Store 保存与读取包内容。找不到内容时返回 packages.ErrNotFound。
type Store interface {
	// Put 写入完整内容；同一条目重复写入会覆盖旧内容。
	Put(ctx context.Context, id string, version versioning.Version, body io.Reader) error

	// Get 返回内容 Reader，调用方负责关闭。
	Get(ctx context.Context, id string, version versioning.Version) (io.ReadCloser, error)

	// Delete 删除内容并返回删除前是否存在，重复删除不报错。
	Delete(ctx context.Context, id string, version versioning.Version) (bool, error)
}

// PackagePath 返回条目的相对路径（URL 风格），例如
// packages/newtonsoft.json/13.0.3/newtonsoft.json.13.0.3.nupkg。
func PackagePath(id string, version versioning.Version) string {
	lowerID := strings.ToLower(id)
	lowerVersion := strings.ToLower(version.String())
	return path.Join("packages", lowerID, lowerVersion, lowerID+"."+lowerVersion+".nupkg")
}
