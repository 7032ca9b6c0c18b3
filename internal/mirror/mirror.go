// Package mirror answers package lookups from an upstream NuGet source and
// copies what it finds into local storage on demand.
//
// Content is written before metadata so a visible record always has its
// .nupkg; if the metadata insert then fails for any reason other than a
// duplicate, the content is removed again. Concurrent mirrors of one
// (id, version) share a single upstream fetch; a caller that loses the
// insert race sees success, never a duplicate-key error.
package mirror

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/metrics"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/state"
	"github.com/any-hub/nuget-hub/internal/storage"
	"github.com/any-hub/nuget-hub/internal/upstream"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// Mirror 是按需镜像能力。found=false 表示上游没有该包（或镜像已关闭），不是错误。
type Mirror interface {
	// FindVersions 返回上游全部 listed 版本。
	FindVersions(ctx context.Context, id string) (versions []versioning.Version, found bool, err error)

	// FindPackages 镜像本地缺失的上游版本，返回合并后的本地视图。
	FindPackages(ctx context.Context, id string) (pkgs []*packages.Package, found bool, err error)

	// Mirror 确保指定版本存在于本地；上游没有该版本时不做任何事。
	Mirror(ctx context.Context, id string, version versioning.Version) error
}

// PackageState 是镜像写入元数据所需的最小能力，由 *state.Service 实现。
type PackageState interface {
	Exists(ctx context.Context, id string, version *versioning.Version) (bool, error)
	FindAll(ctx context.Context, id string, includeUnlisted bool) ([]*packages.Package, error)
	Add(ctx context.Context, pkg *packages.Package) (state.AddResult, error)
}

// Source 是镜像依赖的上游能力，由 *upstream.Client 实现。
type Source interface {
	upstream.Source
	DownloadContent(ctx context.Context, id string, version versioning.Version) (io.ReadCloser, error)
}

// Dependencies 汇总 Service 的协作者。
type Dependencies struct {
	State   PackageState
	Content storage.Store
	Source  Source
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// New 根据 [Mirror].Enabled 选择实现，进程内只调用一次。
func New(cfg config.MirrorConfig, deps Dependencies) Mirror {
	if !cfg.Enabled {
		return Disabled{}
	}
	return NewService(deps, cfg.PackageDownloadTimeout.DurationValue())
}

// Disabled 在镜像关闭时使用：一切都视为不存在。
type Disabled struct{}

func (Disabled) FindVersions(context.Context, string) ([]versioning.Version, bool, error) {
	return nil, false, nil
}

func (Disabled) FindPackages(context.Context, string) ([]*packages.Package, bool, error) {
	return nil, false, nil
}

func (Disabled) Mirror(context.Context, string, versioning.Version) error {
	return nil
}

var (
	_ Mirror = Disabled{}
	_ Mirror = (*Service)(nil)
	_ Source = (*upstream.Client)(nil)
)
