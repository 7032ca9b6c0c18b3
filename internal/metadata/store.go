package metadata

import (
	"context"
	"strings"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// SearchQuery 描述一次搜索过滤条件。Frameworks 为已解析的兼容集合，nil 表示不过滤。
type SearchQuery struct {
	Query             string
	Skip              int
	Take              int
	IncludePrerelease bool
	IncludeSemVer2    bool
	PackageType       string
	Frameworks        []string
}

// Store 是包元数据的持久化契约。查找类方法在记录不存在时返回 packages.ErrNotFound，
// 插入重复记录返回 packages.ErrAlreadyExists。
type Store interface {
	// Count 返回记录总数，用于批处理分页。
	Count(ctx context.Context) (int64, error)

	// Find 精确查找；includeUnlisted 为 false 时下架记录视为不存在。
	Find(ctx context.Context, id string, version versioning.Version, includeUnlisted bool) (*packages.Package, error)

	// FindAll 返回某个 id 的全部版本，按 Key 升序。
	FindAll(ctx context.Context, id string, includeUnlisted bool) ([]*packages.Package, error)

	// Exists 在 version 为 nil 时检查任意版本是否存在；下架记录也算存在。
	Exists(ctx context.Context, id string, version *versioning.Version) (bool, error)

	// Insert 写入新记录并回填 pkg.Key。
	Insert(ctx context.Context, pkg *packages.Package) error

	// InsertMany 在一次事务内写入多条记录，已存在的记录被跳过，返回实际写入条数。
	InsertMany(ctx context.Context, pkgs []*packages.Package) (int, error)

	// Replace 以 (ID, VersionString) 为键整体覆盖记录，Key 保持不变。
	Replace(ctx context.Context, pkg *packages.Package) error

	// ReplaceMany 批量覆盖；期间被删除的记录会被跳过。
	ReplaceMany(ctx context.Context, pkgs []*packages.Package) error

	// HardDelete 永久删除记录；记录不存在时不报错，返回值表示是否真正删除了数据。
	HardDelete(ctx context.Context, id string, version versioning.Version) (bool, error)

	// Page 按 Key 升序返回第 pageIndex 页。
	Page(ctx context.Context, pageIndex, pageSize int) ([]*packages.Package, error)

	// Search 先在去重后的 id 空间上分页，再取回这些 id 的全部版本。
	Search(ctx context.Context, q SearchQuery) ([]*packages.Package, error)

	// Autocomplete 返回 id 包含 query 的已上架包 id，按下载量降序。
	Autocomplete(ctx context.Context, query string, skip, take int) ([]string, error)

	// Dependents 返回依赖 packageID 的已上架包 id，按下载量降序。
	Dependents(ctx context.Context, packageID string, skip, take int) ([]string, error)

	Close() error
}

// identityKey 是 (id, version) 的大小写不敏感身份键。
func identityKey(id string, version versioning.Version) string {
	return strings.ToLower(id) + "\x00" + strings.ToLower(version.String())
}

func normalizeWindow(skip, take int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if take < 0 {
		take = 0
	}
	return skip, take
}
