package search

import (
	"context"
	"strings"

	"github.com/any-hub/nuget-hub/internal/frameworks"
	"github.com/any-hub/nuget-hub/internal/metadata"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// Database 直接查询元数据存储。
type Database struct {
	store metadata.Store
}

func NewDatabase(store metadata.Store) *Database {
	return &Database{store: store}
}

func (d *Database) Search(ctx context.Context, req Request) ([]Result, error) {
	q := metadata.SearchQuery{
		Query:             req.Query,
		Skip:              req.Skip,
		Take:              req.Take,
		IncludePrerelease: req.IncludePrerelease,
		IncludeSemVer2:    req.IncludeSemVer2,
		PackageType:       req.PackageType,
	}
	if req.Framework != "" {
		q.Frameworks = frameworks.Compatible(req.Framework)
	}

	pkgs, err := d.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return groupResults(pkgs), nil
}

func (d *Database) Autocomplete(ctx context.Context, query string, skip, take int) ([]string, error) {
	ids, err := d.store.Autocomplete(ctx, query, skip, take)
	if err != nil {
		return nil, err
	}
	return nonNil(ids), nil
}

func (d *Database) Dependents(ctx context.Context, packageID string, skip, take int) ([]string, error) {
	ids, err := d.store.Dependents(ctx, packageID, skip, take)
	if err != nil {
		return nil, err
	}
	return nonNil(ids), nil
}

// groupResults 按 id（忽略大小写）首次出现的顺序聚合版本，展示最新版本的 id 写法。
func groupResults(pkgs []*packages.Package) []Result {
	var order []string
	groups := map[string][]*packages.Package{}
	for _, pkg := range pkgs {
		key := strings.ToLower(pkg.ID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], pkg)
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		results = append(results, buildResult(groups[id]))
	}
	return results
}

func buildResult(versions []*packages.Package) Result {
	versioning.SortBy(versions, packageVersion, true)
	latest := versions[0]

	res := Result{
		ID:          latest.ID,
		Version:     latest.VersionString(),
		Description: latest.Description,
		Authors:     latest.Authors,
		IconURL:     latest.IconURL,
		LicenseURL:  latest.LicenseURL,
		ProjectURL:  latest.ProjectURL,
		Summary:     latest.Summary,
		Tags:        latest.Tags,
		Title:       latest.Title,
		Published:   latest.Published,
		Versions:    make([]VersionResult, 0, len(versions)),
	}
	for _, pt := range latest.PackageTypes {
		res.PackageTypes = append(res.PackageTypes, pt.Name)
	}
	for _, pkg := range versions {
		res.TotalDownloads += pkg.Downloads
		res.Versions = append(res.Versions, VersionResult{
			Version:   pkg.VersionString(),
			Downloads: pkg.Downloads,
		})
	}
	return res
}

func packageVersion(p *packages.Package) versioning.Version { return p.Version }

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
