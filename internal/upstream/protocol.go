package upstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// 服务索引中的资源类型，按优先级排列。
var (
	packageBaseAddressTypes   = []string{"PackageBaseAddress/3.0.0"}
	registrationsBaseURLTypes = []string{
		"RegistrationsBaseUrl/3.6.0",
		"RegistrationsBaseUrl/3.4.0",
		"RegistrationsBaseUrl/3.0.0-rc",
		"RegistrationsBaseUrl",
	}
)

type serviceIndex struct {
	Version   string            `json:"version"`
	Resources []serviceResource `json:"resources"`
}

type serviceResource struct {
	ID   string `json:"@id"`
	Type string `json:"@type"`
}

// find 返回第一个匹配 types 优先级的资源地址（去掉末尾斜杠）。
func (idx serviceIndex) find(types []string) (string, bool) {
	for _, want := range types {
		for _, res := range idx.Resources {
			if res.Type == want && res.ID != "" {
				return strings.TrimRight(res.ID, "/"), true
			}
		}
	}
	return "", false
}

type registrationIndex struct {
	Count int                `json:"count"`
	Items []registrationPage `json:"items"`
}

// registrationPage 的 Items 为空表示该页未内联，需要按 ID 另行获取。
type registrationPage struct {
	ID    string             `json:"@id"`
	Count int                `json:"count"`
	Lower string             `json:"lower"`
	Upper string             `json:"upper"`
	Items []registrationLeaf `json:"items"`
}

type registrationLeaf struct {
	ID             string       `json:"@id"`
	CatalogEntry   catalogEntry `json:"catalogEntry"`
	PackageContent string       `json:"packageContent"`
}

type catalogEntry struct {
	ID               string            `json:"id"`
	Version          string            `json:"version"`
	Authors          stringList        `json:"authors"`
	Description      string            `json:"description"`
	Summary          string            `json:"summary"`
	Title            string            `json:"title"`
	IconURL          string            `json:"iconUrl"`
	LicenseURL       string            `json:"licenseUrl"`
	ProjectURL       string            `json:"projectUrl"`
	Tags             stringList        `json:"tags"`
	Listed           *bool             `json:"listed"`
	Published        string            `json:"published"`
	PackageTypes     []packageTypeWire `json:"packageTypes"`
	DependencyGroups []dependencyGroup `json:"dependencyGroups"`
}

type packageTypeWire struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type dependencyGroup struct {
	TargetFramework string           `json:"targetFramework"`
	Dependencies    []dependencyWire `json:"dependencies"`
}

type dependencyWire struct {
	ID    string `json:"id"`
	Range string `json:"range"`
}

// stringList 兼容 "a, b" 与 ["a","b"] 两种写法。
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = trimAll(arr)
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	*l = trimAll(strings.Split(single, ","))
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// unlistedPublished 是 nuget.org 对下架包使用的发布时间年份。
const unlistedPublished = 1900

func (e catalogEntry) listed(published time.Time) bool {
	if e.Listed != nil {
		return *e.Listed
	}
	return published.IsZero() || published.Year() != unlistedPublished
}

// toPackage 把注册表条目转换成本地记录；fallbackID 用于条目缺少 id 的情况。
func (e catalogEntry) toPackage(fallbackID string) (*packages.Package, error) {
	version, err := versioning.Parse(e.Version)
	if err != nil {
		return nil, fmt.Errorf("catalog entry %s: %w", e.Version, err)
	}
	id := e.ID
	if id == "" {
		id = fallbackID
	}

	var published time.Time
	if e.Published != "" {
		if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
			published = t.UTC()
		}
	}

	pkg := &packages.Package{
		ID:          id,
		Version:     version,
		Listed:      e.listed(published),
		Description: e.Description,
		Authors:     []string(e.Authors),
		Summary:     e.Summary,
		Title:       e.Title,
		Tags:        []string(e.Tags),
		IconURL:     e.IconURL,
		LicenseURL:  e.LicenseURL,
		ProjectURL:  e.ProjectURL,
		Published:   published,
	}
	for _, pt := range e.PackageTypes {
		pkg.PackageTypes = append(pkg.PackageTypes, packages.PackageType{Name: pt.Name, Version: pt.Version})
	}
	if len(pkg.PackageTypes) == 0 {
		pkg.PackageTypes = []packages.PackageType{{Name: "Dependency"}}
	}
	for _, group := range e.DependencyGroups {
		if len(group.Dependencies) == 0 && group.TargetFramework != "" {
			pkg.TargetFrameworks = append(pkg.TargetFrameworks, group.TargetFramework)
			continue
		}
		for _, dep := range group.Dependencies {
			pkg.Dependencies = append(pkg.Dependencies, packages.Dependency{
				ID:              dep.ID,
				Range:           dep.Range,
				TargetFramework: group.TargetFramework,
			})
		}
	}
	pkg.NormalizeFrameworks()
	return pkg, nil
}
