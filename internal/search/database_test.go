package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/metadata"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

func newSearchStore(t *testing.T, pkgs ...*packages.Package) metadata.Store {
	t.Helper()
	store, err := metadata.NewBoltStore(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	for _, pkg := range pkgs {
		require.NoError(t, store.Insert(context.Background(), pkg))
	}
	return store
}

func pkg(id, version string, downloads int64) *packages.Package {
	return &packages.Package{
		ID:           id,
		Version:      versioning.MustParse(version),
		Listed:       true,
		Downloads:    downloads,
		Description:  id + " " + version,
		PackageTypes: []packages.PackageType{{Name: "Dependency"}},
	}
}

func TestSearchGroupsVersionsByID(t *testing.T) {
	store := newSearchStore(t, pkg("Foo", "1.0.0", 10), pkg("Foo", "2.0.0-beta", 5))
	svc := NewDatabase(store)

	results, err := svc.Search(context.Background(), NewRequest("foo"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.Equal(t, "Foo", res.ID)
	require.Equal(t, "2.0.0-beta", res.Version)
	require.Equal(t, "Foo 2.0.0-beta", res.Description)
	require.EqualValues(t, 15, res.TotalDownloads)
	require.Equal(t, []VersionResult{
		{Version: "2.0.0-beta", Downloads: 5},
		{Version: "1.0.0", Downloads: 10},
	}, res.Versions)
	require.Equal(t, []string{"Dependency"}, res.PackageTypes)
}

func TestSearchMergesIDCasings(t *testing.T) {
	store := newSearchStore(t, pkg("Foo", "1.0.0", 10), pkg("foo", "2.0.0", 5), pkg("Bar", "1.0.0", 1))

	results, err := NewDatabase(store).Search(context.Background(), NewRequest("foo"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "foo", results[0].ID, "latest version decides the displayed id")
	require.Equal(t, "2.0.0", results[0].Version)
	require.EqualValues(t, 15, results[0].TotalDownloads)
	require.Len(t, results[0].Versions, 2)

	req := NewRequest("")
	req.Skip, req.Take = 1, 1
	results, err = NewDatabase(store).Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Bar", results[0].ID, "both casings occupy a single page slot")
}

func TestSearchLatestUsesStructuredComparison(t *testing.T) {
	store := newSearchStore(t, pkg("Foo", "10.0.0", 1), pkg("Foo", "9.0.0", 1), pkg("Foo", "2.0.0", 1))
	results, err := NewDatabase(store).Search(context.Background(), NewRequest(""))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "10.0.0", results[0].Version)
	require.Equal(t, "9.0.0", results[0].Versions[1].Version)
}

func TestSearchPagesOverIDsAndKeepsEveryVersion(t *testing.T) {
	store := newSearchStore(t,
		pkg("Alpha", "1.0.0", 1),
		pkg("Beta", "1.0.0", 1),
		pkg("Beta", "1.1.0", 2),
		pkg("Beta", "1.2.0", 3),
		pkg("Gamma", "1.0.0", 1),
	)
	svc := NewDatabase(store)

	req := NewRequest("")
	req.Skip, req.Take = 1, 1
	results, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Beta", results[0].ID)
	require.Len(t, results[0].Versions, 3)
	require.EqualValues(t, 6, results[0].TotalDownloads)

	req.Skip, req.Take = 0, 20
	results, err = svc.Search(context.Background(), req)
	require.NoError(t, err)
	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"Gamma", "Beta", "Alpha"}, ids)
}

func TestSearchFiltersByCompatibleFramework(t *testing.T) {
	lib := pkg("Lib", "1.0.0", 1)
	lib.TargetFrameworks = []string{"netstandard2.0"}
	legacy := pkg("Legacy", "1.0.0", 1)
	legacy.TargetFrameworks = []string{"net45"}
	svc := NewDatabase(newSearchStore(t, lib, legacy))

	testCases := []struct {
		framework string
		want      []string
	}{
		{"net8.0", []string{"Lib"}},
		{"net472", []string{"Lib", "Legacy"}},
		{"netcoreapp1.0", nil},
		{"unknownfx", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.framework, func(t *testing.T) {
			req := NewRequest("")
			req.Framework = tc.framework
			results, err := svc.Search(context.Background(), req)
			require.NoError(t, err)
			var ids []string
			for _, r := range results {
				ids = append(ids, r.ID)
			}
			require.Equal(t, tc.want, ids)
		})
	}
}

func TestSearchExcludesUnlistedAndPrerelease(t *testing.T) {
	hidden := pkg("Hidden", "1.0.0", 1)
	hidden.Listed = false
	svc := NewDatabase(newSearchStore(t, hidden, pkg("Preview", "1.0.0-rc.1", 1)))

	req := NewRequest("")
	results, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Preview", results[0].ID)

	req.IncludePrerelease = false
	results, err = svc.Search(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, results)
	require.NotNil(t, results)
}

func TestAutocompleteAndDependents(t *testing.T) {
	app := pkg("App", "1.0.0", 50)
	app.Dependencies = []packages.Dependency{{ID: "Core", Range: "[1.0.0, )"}}
	tool := pkg("Tool", "1.0.0", 80)
	tool.Dependencies = []packages.Dependency{{ID: "core"}}
	svc := NewDatabase(newSearchStore(t, app, tool, pkg("Core", "1.0.0", 5)))
	ctx := context.Background()

	ids, err := svc.Dependents(ctx, "CORE", DefaultSkip, DefaultTake)
	require.NoError(t, err)
	require.Equal(t, []string{"Tool", "App"}, ids)

	ids, err = svc.Autocomplete(ctx, "zzz", DefaultSkip, DefaultTake)
	require.NoError(t, err)
	require.NotNil(t, ids)
	require.Empty(t, ids)
}

func TestNewSelectsBackend(t *testing.T) {
	store := newSearchStore(t, pkg("Foo", "1.0.0", 1))

	null := New(config.SearchConfig{Type: config.SearchNull}, store)
	results, err := null.Search(context.Background(), NewRequest("foo"))
	require.NoError(t, err)
	require.Empty(t, results)

	db := New(config.SearchConfig{Type: config.SearchDatabase}, store)
	results, err = db.Search(context.Background(), NewRequest("foo"))
	require.NoError(t, err)
	require.Len(t, results, 1)
}
