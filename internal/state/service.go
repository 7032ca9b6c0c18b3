// Package state owns every mutation of a single package record.
//
// Unlist, Relist and AddDownload are read-modify-write sequences (find,
// mutate one field, replace) without compare-and-swap: two concurrent
// mutations of the same package may lose one update, last write wins.
// Callers depend on this package rather than on metadata.Store so a
// version-stamped replace can be introduced here later without touching them.
package state

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/logging"
	"github.com/any-hub/nuget-hub/internal/metadata"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// AddResult 是 Add 的业务结果；存储故障通过 error 返回。
type AddResult int

const (
	AddSuccess AddResult = iota
	AddAlreadyExists
)

func (r AddResult) String() string {
	if r == AddAlreadyExists {
		return "already_exists"
	}
	return "success"
}

// Service 在 metadata.Store 之上提供单包操作。
type Service struct {
	store  metadata.Store
	logger *logrus.Logger
}

// New 构造 Service，logger 为 nil 时使用丢弃输出的 logger。
func New(store metadata.Store, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Service{store: store, logger: logger}
}

// Add 在 (Id, Version) 不存在时写入。先查再写并非原子操作，
// 并发写入时由存储层的唯一约束兜底，重复键同样映射为 AddAlreadyExists。
func (s *Service) Add(ctx context.Context, pkg *packages.Package) (AddResult, error) {
	exists, err := s.store.Exists(ctx, pkg.ID, &pkg.Version)
	if err != nil {
		return AddSuccess, err
	}
	if exists {
		return AddAlreadyExists, nil
	}

	if err := s.store.Insert(ctx, pkg); err != nil {
		if errors.Is(err, packages.ErrAlreadyExists) {
			return AddAlreadyExists, nil
		}
		return AddSuccess, err
	}

	s.logger.WithFields(logging.PackageFields(pkg.ID, pkg.VersionString())).
		WithField("action", "package_added").Debug("package added")
	return AddSuccess, nil
}

func (s *Service) Find(ctx context.Context, id string, version versioning.Version, includeUnlisted bool) (*packages.Package, error) {
	return s.store.Find(ctx, id, version, includeUnlisted)
}

func (s *Service) FindAll(ctx context.Context, id string, includeUnlisted bool) ([]*packages.Package, error) {
	return s.store.FindAll(ctx, id, includeUnlisted)
}

func (s *Service) Exists(ctx context.Context, id string, version *versioning.Version) (bool, error) {
	return s.store.Exists(ctx, id, version)
}

// Unlist 下架包；包不存在时返回 false。
func (s *Service) Unlist(ctx context.Context, id string, version versioning.Version) (bool, error) {
	return s.mutate(ctx, "package_unlisted", id, version, func(pkg *packages.Package) {
		pkg.Listed = false
	})
}

// Relist 重新上架包；包不存在时返回 false。
func (s *Service) Relist(ctx context.Context, id string, version versioning.Version) (bool, error) {
	return s.mutate(ctx, "package_relisted", id, version, func(pkg *packages.Package) {
		pkg.Listed = true
	})
}

// AddDownload 将下载量加一；包不存在时返回 false。
func (s *Service) AddDownload(ctx context.Context, id string, version versioning.Version) (bool, error) {
	return s.mutate(ctx, "", id, version, func(pkg *packages.Package) {
		pkg.Downloads++
	})
}

// HardDelete 永久删除元数据，重复删除不报错。
func (s *Service) HardDelete(ctx context.Context, id string, version versioning.Version) (bool, error) {
	deleted, err := s.store.HardDelete(ctx, id, version)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.WithFields(logging.PackageFields(id, version.String())).
			WithField("action", "package_deleted").Info("package hard deleted")
	}
	return deleted, nil
}

// mutate 执行 find -> fn -> replace。记录在两步之间被删除时同样返回 false。
func (s *Service) mutate(ctx context.Context, action, id string, version versioning.Version, fn func(*packages.Package)) (bool, error) {
	pkg, err := s.store.Find(ctx, id, version, true)
	if errors.Is(err, packages.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find %s %s: %w", id, version.String(), err)
	}

	fn(pkg)
	if err := s.store.Replace(ctx, pkg); err != nil {
		if errors.Is(err, packages.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("replace %s %s: %w", id, version.String(), err)
	}

	if action != "" {
		s.logger.WithFields(logging.PackageFields(pkg.ID, pkg.VersionString())).
			WithField("action", action).Info("package state changed")
	}
	return true, nil
}
