package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/nuget-hub/internal/logging"
	"github.com/any-hub/nuget-hub/internal/metrics"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/state"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// mirrorConcurrency 限制 FindPackages 同时下载的版本数。
const mirrorConcurrency = 4

// errLeaderGone 表示共享抓取因发起者取消而中止，其余等待者应自行重试。
var errLeaderGone = errors.New("shared mirror fetch abandoned by its caller")

type fetchFunc func(ctx context.Context) (*packages.Package, io.ReadCloser, error)

// Service 是启用镜像时的实现。
type Service struct {
	deps    Dependencies
	timeout time.Duration
	group   singleflight.Group
}

// NewService 构造镜像服务；timeout 约束单个包的上游抓取与写入耗时。
func NewService(deps Dependencies, timeout time.Duration) *Service {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
		deps.Logger.SetOutput(io.Discard)
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Service{deps: deps, timeout: timeout}
}

func (s *Service) FindVersions(ctx context.Context, id string) ([]versioning.Version, bool, error) {
	versions, err := s.deps.Source.ListVersions(ctx, id)
	if errors.Is(err, packages.ErrNotFound) {
		s.deps.Metrics.RecordMirrorLookup(metrics.MirrorAbsent)
		return nil, false, nil
	}
	if err != nil {
		s.recordFetchError(err)
		return nil, false, err
	}
	s.deps.Metrics.RecordMirrorLookup(metrics.MirrorUpstreamHit)
	return versions, true, nil
}

func (s *Service) FindPackages(ctx context.Context, id string) ([]*packages.Package, bool, error) {
	remote, err := s.deps.Source.FetchPackages(ctx, id)
	if errors.Is(err, packages.ErrNotFound) {
		s.deps.Metrics.RecordMirrorLookup(metrics.MirrorAbsent)
		return nil, false, nil
	}
	if err != nil {
		s.recordFetchError(err)
		return nil, false, err
	}

	local, err := s.deps.State.FindAll(ctx, id, true)
	if err != nil {
		return nil, false, err
	}
	have := make(map[string]struct{}, len(local))
	for _, pkg := range local {
		have[mirrorKey(pkg.ID, pkg.Version)] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mirrorConcurrency)
	for _, pkg := range remote {
		if !pkg.Listed {
			continue
		}
		if _, ok := have[mirrorKey(pkg.ID, pkg.Version)]; ok {
			continue
		}
		known := pkg
		g.Go(func() error {
			return s.ensure(gctx, known.ID, known.Version, func(ctx context.Context) (*packages.Package, io.ReadCloser, error) {
				body, err := s.deps.Source.DownloadContent(ctx, known.ID, known.Version)
				if err != nil {
					return nil, nil, err
				}
				return known.Clone(), body, nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	merged, err := s.deps.State.FindAll(ctx, id, true)
	if err != nil {
		return nil, false, err
	}
	return merged, true, nil
}

func (s *Service) Mirror(ctx context.Context, id string, version versioning.Version) error {
	return s.ensure(ctx, id, version, func(ctx context.Context) (*packages.Package, io.ReadCloser, error) {
		return s.deps.Source.FetchPackage(ctx, id, version)
	})
}

// ensure 通过 singleflight 合并同一 (id, version) 的并发镜像。
// 共享抓取使用发起者的 ctx；发起者取消后，仍在等待的调用方会重新发起。
func (s *Service) ensure(ctx context.Context, id string, version versioning.Version, fetch fetchFunc) error {
	key := mirrorKey(id, version)
	for {
		ch := s.group.DoChan(key, func() (any, error) {
			err := s.mirrorOnce(ctx, id, version, fetch)
			if err != nil && ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", errLeaderGone, err)
			}
			return nil, err
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if errors.Is(res.Err, errLeaderGone) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			return res.Err
		}
	}
}

func (s *Service) mirrorOnce(ctx context.Context, id string, version versioning.Version, fetch fetchFunc) error {
	exists, err := s.deps.State.Exists(ctx, id, &version)
	if err != nil {
		return err
	}
	if exists {
		s.deps.Metrics.RecordMirrorLookup(metrics.MirrorLocal)
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pkg, body, err := fetch(fetchCtx)
	if errors.Is(err, packages.ErrNotFound) {
		s.deps.Metrics.RecordMirrorLookup(metrics.MirrorAbsent)
		return nil
	}
	if err != nil {
		s.recordFetchError(err)
		return err
	}
	defer body.Close()

	if err := s.persist(fetchCtx, pkg, body); err != nil {
		return err
	}
	s.deps.Metrics.RecordMirrorLookup(metrics.MirrorUpstreamHit)
	return nil
}

// persist 先写内容再写元数据；元数据写入失败（非重复键）时回滚内容。
func (s *Service) persist(ctx context.Context, pkg *packages.Package, body io.Reader) error {
	fields := logging.PackageFields(pkg.ID, pkg.VersionString())

	if err := s.deps.Content.Put(ctx, pkg.ID, pkg.Version, body); err != nil {
		return fmt.Errorf("store content %s %s: %w", pkg.ID, pkg.VersionString(), err)
	}

	pkg.Key = 0
	pkg.Downloads = 0
	res, err := s.deps.State.Add(ctx, pkg)
	if err != nil {
		if _, delErr := s.deps.Content.Delete(context.WithoutCancel(ctx), pkg.ID, pkg.Version); delErr != nil {
			s.deps.Logger.WithFields(fields).WithField("action", "mirror_rollback").Warn(delErr.Error())
		}
		return fmt.Errorf("add %s %s: %w", pkg.ID, pkg.VersionString(), err)
	}

	if res == state.AddAlreadyExists {
		s.deps.Logger.WithFields(fields).WithField("action", "mirror_race_lost").Debug("package mirrored concurrently")
		return nil
	}
	s.deps.Logger.WithFields(fields).WithField("action", "mirror_package").Info("package mirrored from upstream")
	return nil
}

func (s *Service) recordFetchError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.deps.Metrics.RecordMirrorFetchError()
	s.deps.Logger.WithField("action", "mirror_fetch_failed").Warn(err.Error())
}

func mirrorKey(id string, version versioning.Version) string {
	return strings.ToLower(id) + "/" + strings.ToLower(version.String())
}
