package routes

import (
	"strings"
	"time"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

type serviceIndex struct {
	Version   string            `json:"version"`
	Resources []serviceResource `json:"resources"`
}

type serviceResource struct {
	ID      string `json:"@id"`
	Type    string `json:"@type"`
	Comment string `json:"comment,omitempty"`
}

func buildServiceIndex(base string) serviceIndex {
	base = strings.TrimRight(base, "/")
	resource := func(path, comment string, types ...string) []serviceResource {
		out := make([]serviceResource, 0, len(types))
		for _, t := range types {
			out = append(out, serviceResource{ID: base + path, Type: t, Comment: comment})
		}
		return out
	}

	var resources []serviceResource
	resources = append(resources, resource("/api/v2/package", "Push, unlist and relist packages",
		"PackagePublish/2.0.0")...)
	resources = append(resources, resource("/v3/search", "Query packages",
		"SearchQueryService", "SearchQueryService/3.0.0-beta", "SearchQueryService/3.0.0-rc")...)
	resources = append(resources, resource("/v3/registration/", "Package metadata",
		"RegistrationsBaseUrl", "RegistrationsBaseUrl/3.0.0-rc", "RegistrationsBaseUrl/3.0.0-beta")...)
	resources = append(resources, resource("/v3/package/", "Package content",
		"PackageBaseAddress/3.0.0")...)
	resources = append(resources, resource("/v3/autocomplete", "Autocomplete package ids",
		"SearchAutocompleteService", "SearchAutocompleteService/3.0.0-rc", "SearchAutocompleteService/3.0.0-beta")...)
	return serviceIndex{Version: "3.0.0", Resources: resources}
}

type registrationIndex struct {
	ID    string             `json:"@id"`
	Count int                `json:"count"`
	Items []registrationPage `json:"items"`
}

type registrationPage struct {
	ID    string             `json:"@id"`
	Count int                `json:"count"`
	Lower string             `json:"lower"`
	Upper string             `json:"upper"`
	Items []registrationLeaf `json:"items"`
}

type registrationLeaf struct {
	ID             string       `json:"@id"`
	PackageContent string       `json:"packageContent"`
	CatalogEntry   catalogEntry `json:"catalogEntry"`
}

type catalogEntry struct {
	ID               string            `json:"id"`
	Version          string            `json:"version"`
	Listed           bool              `json:"listed"`
	Published        time.Time         `json:"published"`
	Authors          string            `json:"authors"`
	Description      string            `json:"description,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	Title            string            `json:"title,omitempty"`
	IconURL          string            `json:"iconUrl,omitempty"`
	LicenseURL       string            `json:"licenseUrl,omitempty"`
	ProjectURL       string            `json:"projectUrl,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	PackageTypes     []packageType     `json:"packageTypes,omitempty"`
	DependencyGroups []dependencyGroup `json:"dependencyGroups,omitempty"`
}

type packageType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type dependencyGroup struct {
	TargetFramework string       `json:"targetFramework,omitempty"`
	Dependencies    []dependency `json:"dependencies,omitempty"`
}

type dependency struct {
	ID    string `json:"id"`
	Range string `json:"range,omitempty"`
}

// unlistedPublished 是下架包对外显示的发布时间，客户端据此隐藏版本。
var unlistedPublished = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// buildRegistrationIndex 输出单页内联的注册表索引，版本升序。
func buildRegistrationIndex(base, id string, pkgs []*packages.Package) registrationIndex {
	base = strings.TrimRight(base, "/")
	lowerID := strings.ToLower(id)
	indexURL := base + "/v3/registration/" + lowerID + "/index.json"

	sorted := append([]*packages.Package(nil), pkgs...)
	versioning.SortBy(sorted, packageVersion, false)

	leaves := make([]registrationLeaf, 0, len(sorted))
	for _, pkg := range sorted {
		leaves = append(leaves, buildLeaf(base, lowerID, pkg))
	}

	page := registrationPage{
		ID:    indexURL + "#page",
		Count: len(leaves),
		Items: leaves,
	}
	if len(sorted) > 0 {
		page.Lower = normalized(sorted[0].Version)
		page.Upper = normalized(sorted[len(sorted)-1].Version)
	}
	return registrationIndex{ID: indexURL, Count: 1, Items: []registrationPage{page}}
}

func buildLeaf(base, lowerID string, pkg *packages.Package) registrationLeaf {
	lowerVersion := normalized(pkg.Version)
	entry := catalogEntry{
		ID:          pkg.ID,
		Version:     pkg.Version.FullString(),
		Listed:      pkg.Listed,
		Published:   pkg.Published,
		Authors:     strings.Join(pkg.Authors, ", "),
		Description: pkg.Description,
		Summary:     pkg.Summary,
		Title:       pkg.Title,
		IconURL:     pkg.IconURL,
		LicenseURL:  pkg.LicenseURL,
		ProjectURL:  pkg.ProjectURL,
		Tags:        pkg.Tags,
	}
	if !pkg.Listed {
		entry.Published = unlistedPublished
	}
	for _, pt := range pkg.PackageTypes {
		entry.PackageTypes = append(entry.PackageTypes, packageType{Name: pt.Name, Version: pt.Version})
	}
	entry.DependencyGroups = dependencyGroups(pkg)

	return registrationLeaf{
		ID:             base + "/v3/registration/" + lowerID + "/" + lowerVersion + ".json",
		PackageContent: base + "/v3/package/" + lowerID + "/" + lowerVersion + "/" + lowerID + "." + lowerVersion + ".nupkg",
		CatalogEntry:   entry,
	}
}

// dependencyGroups 按目标框架分组；只声明了框架而没有依赖的也输出空组。
func dependencyGroups(pkg *packages.Package) []dependencyGroup {
	var order []string
	groups := map[string][]dependency{}
	for _, dep := range pkg.Dependencies {
		if _, ok := groups[dep.TargetFramework]; !ok {
			order = append(order, dep.TargetFramework)
		}
		groups[dep.TargetFramework] = append(groups[dep.TargetFramework], dependency{ID: dep.ID, Range: dep.Range})
	}
	for _, tf := range pkg.TargetFrameworks {
		if _, ok := groups[tf]; !ok {
			order = append(order, tf)
			groups[tf] = nil
		}
	}

	out := make([]dependencyGroup, 0, len(order))
	for _, tf := range order {
		out = append(out, dependencyGroup{TargetFramework: tf, Dependencies: groups[tf]})
	}
	return out
}

func normalized(v versioning.Version) string {
	return strings.ToLower(v.String())
}

func packageVersion(p *packages.Package) versioning.Version { return p.Version }
