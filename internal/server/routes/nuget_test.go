package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/auth"
	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/metadata"
	"github.com/any-hub/nuget-hub/internal/mirror"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/search"
	"github.com/any-hub/nuget-hub/internal/server"
	"github.com/any-hub/nuget-hub/internal/state"
	"github.com/any-hub/nuget-hub/internal/storage"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

type fixture struct {
	app     *fiber.App
	state   *state.Service
	content storage.Store
}

type fixtureOption func(*Dependencies)

func withMirror(m mirror.Mirror) fixtureOption {
	return func(d *Dependencies) { d.Mirror = m }
}

func withHardDelete() fixtureOption {
	return func(d *Dependencies) { d.HardDelete = true }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := metadata.NewBoltStore(filepath.Join(t.TempDir(), "routes.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	content, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open content: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{Logger: logger, ListenPort: 5000})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	svc := state.New(store, logger)
	deps := Dependencies{
		Logger:  logger,
		State:   svc,
		Content: content,
		Search:  search.NewDatabase(store),
		Auth:    auth.NewAPIKeyAuthenticator("secret"),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	RegisterNuGetRoutes(app, deps)
	return &fixture{app: app, state: svc, content: content}
}

func (f *fixture) seed(t *testing.T, id, version, body string) {
	t.Helper()
	v := versioning.MustParse(version)
	pkg := &packages.Package{
		ID:           id,
		Version:      v,
		Listed:       true,
		Authors:      []string{"Alice", "Bob"},
		PackageTypes: []packages.PackageType{{Name: "Dependency"}},
		Dependencies: []packages.Dependency{{ID: "Core", Range: "[1.0.0, )", TargetFramework: "netstandard2.0"}},
	}
	if _, err := f.state.Add(context.Background(), pkg); err != nil {
		t.Fatalf("seed metadata: %v", err)
	}
	if err := f.content.Put(context.Background(), id, v, strings.NewReader(body)); err != nil {
		t.Fatalf("seed content: %v", err)
	}
}

func (f *fixture) do(t *testing.T, method, target string, header map[string]string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestServiceIndexAdvertisesResources(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, "GET", "http://nuget.local/v3/index.json", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var index serviceIndex
	if err := json.Unmarshal(body, &index); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := map[string]string{}
	for _, res := range index.Resources {
		found[res.Type] = res.ID
	}
	if found["PackageBaseAddress/3.0.0"] != "http://nuget.local/v3/package/" {
		t.Fatalf("unexpected package base address: %v", found)
	}
	if found["SearchQueryService/3.0.0-rc"] == "" || found["PackagePublish/2.0.0"] == "" {
		t.Fatalf("missing resources: %v", found)
	}
}

func TestDownloadStreamsContentAndCountsDownload(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0", "nupkg-bytes")

	status, body := f.do(t, "GET", "/v3/package/foo/1.0.0/foo.1.0.0.nupkg", nil)
	if status != fiber.StatusOK || string(body) != "nupkg-bytes" {
		t.Fatalf("unexpected response %d %q", status, body)
	}
	pkg, err := f.state.Find(context.Background(), "Foo", versioning.MustParse("1.0.0"), true)
	if err != nil || pkg.Downloads != 1 {
		t.Fatalf("download not counted: %+v %v", pkg, err)
	}

	status, _ = f.do(t, "GET", "/v3/package/foo/1.0.0/bar.1.0.0.nupkg", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("mismatched file name must be 404, got %d", status)
	}
	status, _ = f.do(t, "GET", "/v3/package/foo/2.0.0/foo.2.0.0.nupkg", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("unknown version must be 404, got %d", status)
	}
}

func TestPackageVersionsLocalAndMissing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "2.0.0", "b")
	f.seed(t, "Foo", "1.0.0-Beta", "a")

	status, body := f.do(t, "GET", "/v3/package/FOO/index.json", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if string(body) != `{"versions":["1.0.0-beta","2.0.0"]}` {
		t.Fatalf("unexpected body %s", body)
	}

	status, body = f.do(t, "GET", "/v3/package/nope/index.json", nil)
	if status != fiber.StatusNotFound || !strings.Contains(string(body), "not_found") {
		t.Fatalf("expected 404, got %d %s", status, body)
	}
}

// stubMirror 返回固定的上游版本。
type stubMirror struct {
	mirror.Disabled
	versions []versioning.Version
	err      error
}

func (s stubMirror) FindVersions(context.Context, string) ([]versioning.Version, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	return s.versions, len(s.versions) > 0, nil
}

func (s stubMirror) FindPackages(context.Context, string) ([]*packages.Package, bool, error) {
	return nil, false, s.err
}

func TestPackageVersionsFallsBackToMirror(t *testing.T) {
	f := newFixture(t, withMirror(stubMirror{versions: []versioning.Version{
		versioning.MustParse("3.0.0"), versioning.MustParse("1.2.0"),
	}}))
	status, body := f.do(t, "GET", "/v3/package/remote/index.json", nil)
	if status != fiber.StatusOK || string(body) != `{"versions":["1.2.0","3.0.0"]}` {
		t.Fatalf("unexpected response %d %s", status, body)
	}

	f = newFixture(t, withMirror(stubMirror{err: packages.ErrUpstreamUnavailable}))
	status, _ = f.do(t, "GET", "/v3/package/remote/index.json", nil)
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("upstream failure must be 503, got %d", status)
	}
}

func TestRegistrationIndex(t *testing.T) {
	f := newFixture(t, withMirror(stubMirror{err: errors.New("upstream down")}))
	f.seed(t, "Foo", "1.0.0", "a")
	f.seed(t, "Foo", "1.10.0", "b")
	f.seed(t, "Foo", "1.9.0", "c")

	status, body := f.do(t, "GET", "http://nuget.local/v3/registration/foo/index.json", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 from local view, got %d %s", status, body)
	}
	var index registrationIndex
	if err := json.Unmarshal(body, &index); err != nil {
		t.Fatalf("decode: %v", err)
	}
	page := index.Items[0]
	if page.Count != 3 || page.Lower != "1.0.0" || page.Upper != "1.10.0" {
		t.Fatalf("unexpected page: %+v", page)
	}
	leaf := page.Items[1]
	if leaf.CatalogEntry.Version != "1.9.0" || leaf.CatalogEntry.Authors != "Alice, Bob" {
		t.Fatalf("unexpected leaf: %+v", leaf.CatalogEntry)
	}
	if leaf.PackageContent != "http://nuget.local/v3/package/foo/1.9.0/foo.1.9.0.nupkg" {
		t.Fatalf("unexpected content url %s", leaf.PackageContent)
	}
	groups := leaf.CatalogEntry.DependencyGroups
	if len(groups) != 1 || groups[0].TargetFramework != "netstandard2.0" || groups[0].Dependencies[0].ID != "Core" {
		t.Fatalf("unexpected dependency groups: %+v", groups)
	}

	status, _ = newFixture(t).do(t, "GET", "/v3/registration/foo/index.json", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("empty registration must be 404, got %d", status)
	}
}

func TestSearchAndAutocompleteEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0", "a")
	f.seed(t, "FooBar", "2.0.0-rc", "b")

	status, body := f.do(t, "GET", "/v3/search?q=foo", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var resp search.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalHits != 1 || resp.Data[0].ID != "Foo" {
		t.Fatalf("prerelease must be excluded by default: %+v", resp)
	}

	_, body = f.do(t, "GET", "/v3/search?q=foo&prerelease=true&take=1", nil)
	resp = search.Response{}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalHits != 1 || resp.Data[0].ID != "FooBar" {
		t.Fatalf("unexpected paged search: %+v", resp)
	}

	status, body = f.do(t, "GET", "/v3/autocomplete?q=bar", nil)
	if status != fiber.StatusOK || string(body) != `{"totalHits":1,"data":["FooBar"]}` {
		t.Fatalf("unexpected autocomplete %d %s", status, body)
	}

	status, _ = f.do(t, "GET", "/v3/dependents", nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("missing packageId must be 400, got %d", status)
	}
	status, body = f.do(t, "GET", "/v3/dependents?packageId=core", nil)
	if status != fiber.StatusOK || !strings.Contains(string(body), `"Foo"`) {
		t.Fatalf("unexpected dependents %d %s", status, body)
	}
}

func TestDeleteRequiresAPIKeyAndUnlists(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0", "a")
	v := versioning.MustParse("1.0.0")

	status, body := f.do(t, "DELETE", "/api/v2/package/foo/1.0.0", nil)
	if status != fiber.StatusUnauthorized || !strings.Contains(string(body), "unauthorized") {
		t.Fatalf("expected 401, got %d %s", status, body)
	}

	key := map[string]string{apiKeyHeader: "secret"}
	if status, _ = f.do(t, "DELETE", "/api/v2/package/foo/1.0.0", key); status != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	pkg, err := f.state.Find(context.Background(), "Foo", v, true)
	if err != nil || pkg.Listed {
		t.Fatalf("package should be unlisted but kept: %+v %v", pkg, err)
	}

	if status, _ = f.do(t, "POST", "/api/v2/package/foo/1.0.0", key); status != fiber.StatusOK {
		t.Fatalf("expected 200 on relist, got %d", status)
	}
	if pkg, _ = f.state.Find(context.Background(), "Foo", v, false); pkg == nil || !pkg.Listed {
		t.Fatalf("package should be listed again")
	}

	if status, _ = f.do(t, "DELETE", "/api/v2/package/nope/1.0.0", key); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown package, got %d", status)
	}
}

func TestHardDeleteRemovesMetadataAndContent(t *testing.T) {
	f := newFixture(t, withHardDelete())
	f.seed(t, "Foo", "1.0.0", "a")
	v := versioning.MustParse("1.0.0")
	key := map[string]string{apiKeyHeader: "secret"}

	if status, _ := f.do(t, "DELETE", "/api/v2/package/foo/1.0.0", key); status != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
	if _, err := f.state.Find(context.Background(), "Foo", v, true); !errors.Is(err, packages.ErrNotFound) {
		t.Fatalf("metadata should be gone, got %v", err)
	}
	if _, err := f.content.Get(context.Background(), "Foo", v); !errors.Is(err, packages.ErrNotFound) {
		t.Fatalf("content should be gone, got %v", err)
	}
	if status, _ := f.do(t, "DELETE", "/api/v2/package/foo/1.0.0", key); status != fiber.StatusNotFound {
		t.Fatalf("second hard delete should report 404, got %d", status)
	}
}

func TestDiagnosticsRoute(t *testing.T) {
	app, err := server.NewApp(server.AppOptions{Logger: logrus.New(), ListenPort: 5000})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	RegisterDiagnosticsRoutes(app, &config.Config{
		Global:   config.GlobalConfig{PackageDeletionBehavior: config.DeletionUnlist},
		Database: config.DatabaseConfig{Type: config.DatabaseBolt},
		Storage:  config.StorageConfig{Type: config.StorageS3},
		Search:   config.SearchConfig{Type: config.SearchDatabase},
		Mirror:   config.MirrorConfig{Enabled: true, PackageSource: config.DefaultPackageSource},
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/backends", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var payload backendsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Storage != config.StorageS3 || payload.AuthMode != "open" || payload.Mirror.PackageSource != config.DefaultPackageSource {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
