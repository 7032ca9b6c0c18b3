package routes

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/auth"
	"github.com/any-hub/nuget-hub/internal/logging"
	"github.com/any-hub/nuget-hub/internal/metrics"
	"github.com/any-hub/nuget-hub/internal/mirror"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/search"
	"github.com/any-hub/nuget-hub/internal/server"
	"github.com/any-hub/nuget-hub/internal/storage"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// maxTake 限制单次查询返回的条目数。
const maxTake = 1000

// apiKeyHeader 是 NuGet 客户端携带 API key 的请求头。
const apiKeyHeader = "X-NuGet-ApiKey"

// PackageState 是路由需要的包状态操作，由 *state.Service 实现。
type PackageState interface {
	FindAll(ctx context.Context, id string, includeUnlisted bool) ([]*packages.Package, error)
	Unlist(ctx context.Context, id string, version versioning.Version) (bool, error)
	Relist(ctx context.Context, id string, version versioning.Version) (bool, error)
	AddDownload(ctx context.Context, id string, version versioning.Version) (bool, error)
	HardDelete(ctx context.Context, id string, version versioning.Version) (bool, error)
}

// Dependencies 汇总 NuGet 路由的协作者。
type Dependencies struct {
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
	State      PackageState
	Content    storage.Store
	Mirror     mirror.Mirror
	Search     search.Service
	Auth       auth.Authenticator
	HardDelete bool
}

type nugetHandler struct {
	deps Dependencies
}

// RegisterNuGetRoutes 挂载 NuGet v3 服务索引、查询、内容与注册表接口以及 v2 管理接口。
func RegisterNuGetRoutes(app *fiber.App, deps Dependencies) {
	if app == nil {
		return
	}
	if deps.Mirror == nil {
		deps.Mirror = mirror.Disabled{}
	}
	if deps.Search == nil {
		deps.Search = search.Null{}
	}
	h := &nugetHandler{deps: deps}

	app.Get("/v3/index.json", h.serviceIndex)
	app.Get("/v3/search", h.search)
	app.Get("/v3/autocomplete", h.autocomplete)
	app.Get("/v3/dependents", h.dependents)
	app.Get("/v3/package/:id/index.json", h.packageVersions)
	app.Get("/v3/package/:id/:version/:file", h.downloadPackage)
	app.Get("/v3/registration/:id/index.json", h.registrationIndex)

	app.Delete("/api/v2/package/:id/:version", h.requireAPIKey, h.deletePackage)
	app.Post("/api/v2/package/:id/:version", h.requireAPIKey, h.relistPackage)
}

func (h *nugetHandler) serviceIndex(c fiber.Ctx) error {
	return c.JSON(buildServiceIndex(c.BaseURL()))
}

func (h *nugetHandler) search(c fiber.Ctx) error {
	skip, take := window(c)
	req := search.Request{
		Query:             c.Query("q"),
		Skip:              skip,
		Take:              take,
		IncludePrerelease: queryBool(c, "prerelease", false),
		IncludeSemVer2:    strings.HasPrefix(c.Query("semVerLevel"), "2"),
		PackageType:       c.Query("packageType"),
		Framework:         c.Query("framework"),
	}
	results, err := h.deps.Search.Search(requestContext(c), req)
	if err != nil {
		return err
	}
	return c.JSON(search.Response{TotalHits: len(results), Data: results})
}

func (h *nugetHandler) autocomplete(c fiber.Ctx) error {
	skip, take := window(c)
	ids, err := h.deps.Search.Autocomplete(requestContext(c), c.Query("q"), skip, take)
	if err != nil {
		return err
	}
	return c.JSON(search.AutocompleteResponse{TotalHits: len(ids), Data: ids})
}

func (h *nugetHandler) dependents(c fiber.Ctx) error {
	id := strings.TrimSpace(c.Query("packageId"))
	if id == "" {
		return server.WriteError(c, fiber.StatusBadRequest, "package_id_required")
	}
	skip, take := window(c)
	ids, err := h.deps.Search.Dependents(requestContext(c), id, skip, take)
	if err != nil {
		return err
	}
	return c.JSON(search.DependentsResponse{TotalHits: len(ids), Data: ids})
}

// packageVersions 优先返回本地版本；本地没有任何版本时才询问镜像。
func (h *nugetHandler) packageVersions(c fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")

	local, err := h.deps.State.FindAll(ctx, id, true)
	if err != nil {
		return err
	}
	versions := make([]versioning.Version, 0, len(local))
	for _, pkg := range local {
		versions = append(versions, pkg.Version)
	}
	if len(versions) == 0 {
		upstream, found, err := h.deps.Mirror.FindVersions(ctx, id)
		if err != nil {
			return err
		}
		if !found || len(upstream) == 0 {
			return packages.ErrNotFound
		}
		versions = upstream
	}

	versioning.SortAscending(versions)
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, strings.ToLower(v.String()))
	}
	return c.JSON(fiber.Map{"versions": out})
}

func (h *nugetHandler) downloadPackage(c fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")
	version, err := versioning.Parse(c.Params("version"))
	if err != nil {
		return packages.ErrNotFound
	}
	lowerID := strings.ToLower(id)
	lowerVersion := strings.ToLower(version.String())
	if !strings.EqualFold(c.Params("file"), lowerID+"."+lowerVersion+".nupkg") {
		return packages.ErrNotFound
	}

	if err := h.deps.Mirror.Mirror(ctx, id, version); err != nil {
		return err
	}
	body, err := h.deps.Content.Get(ctx, id, version)
	if err != nil {
		return err
	}
	defer body.Close()

	fields := logging.PackageFields(id, version.String())
	if _, err := h.deps.State.AddDownload(ctx, id, version); err != nil {
		h.deps.Logger.WithFields(fields).WithField("action", "count_download").Warn(err.Error())
	}
	h.deps.Metrics.RecordDownload()

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Status(fiber.StatusOK)
	if _, err := io.Copy(c.Response().BodyWriter(), body); err != nil {
		return err
	}
	return nil
}

// registrationIndex 合并本地记录与镜像结果；上游不可用时退回本地视图。
func (h *nugetHandler) registrationIndex(c fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")

	pkgs, err := h.deps.State.FindAll(ctx, id, true)
	if err != nil {
		return err
	}
	mirrored, found, err := h.deps.Mirror.FindPackages(ctx, id)
	switch {
	case err != nil && len(pkgs) == 0:
		return err
	case err != nil:
		h.deps.Logger.WithFields(logging.PackageFields(id, "")).
			WithField("action", "registration_mirror").Warn(err.Error())
	case found:
		pkgs = mirrored
	}
	if len(pkgs) == 0 {
		return packages.ErrNotFound
	}
	return c.JSON(buildRegistrationIndex(c.BaseURL(), id, pkgs))
}

func (h *nugetHandler) requireAPIKey(c fiber.Ctx) error {
	if h.deps.Auth != nil && !h.deps.Auth.Authenticate(requestContext(c), c.Get(apiKeyHeader)) {
		return server.ErrUnauthorized
	}
	return c.Next()
}

// deletePackage 按配置下架或永久删除。
func (h *nugetHandler) deletePackage(c fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")
	version, err := versioning.Parse(c.Params("version"))
	if err != nil {
		return packages.ErrNotFound
	}
	fields := logging.PackageFields(id, version.String())

	var ok bool
	if h.deps.HardDelete {
		ok, err = h.deps.State.HardDelete(ctx, id, version)
		if err == nil && ok {
			if _, delErr := h.deps.Content.Delete(ctx, id, version); delErr != nil && !errors.Is(delErr, packages.ErrNotFound) {
				h.deps.Logger.WithFields(fields).WithField("action", "delete_content").Warn(delErr.Error())
			}
		}
	} else {
		ok, err = h.deps.State.Unlist(ctx, id, version)
	}
	if err != nil {
		return err
	}
	if !ok {
		return packages.ErrNotFound
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *nugetHandler) relistPackage(c fiber.Ctx) error {
	version, err := versioning.Parse(c.Params("version"))
	if err != nil {
		return packages.ErrNotFound
	}
	ok, err := h.deps.State.Relist(requestContext(c), c.Params("id"), version)
	if err != nil {
		return err
	}
	if !ok {
		return packages.ErrNotFound
	}
	return c.SendStatus(fiber.StatusOK)
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

// window 解析 skip/take，缺省或非法时使用默认值。
func window(c fiber.Ctx) (int, int) {
	skip := queryInt(c, "skip", search.DefaultSkip)
	take := queryInt(c, "take", search.DefaultTake)
	if skip < 0 {
		skip = search.DefaultSkip
	}
	if take < 0 {
		take = search.DefaultTake
	}
	if take > maxTake {
		take = maxTake
	}
	return skip, take
}

func queryInt(c fiber.Ctx, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryBool(c fiber.Ctx, key string, fallback bool) bool {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
