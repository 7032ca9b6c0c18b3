package packages

import (
	"strings"
	"time"

	"github.com/any-hub/nuget-hub/internal/frameworks"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// SemVerLevel 标识包是否只能被支持 SemVer 2.0 的客户端看到。
type SemVerLevel int

const (
	SemVer1 SemVerLevel = iota
	SemVer2
)

func (l SemVerLevel) String() string {
	if l == SemVer2 {
		return "2.0.0"
	}
	return "1.0.0"
}

// PackageType 对应 nuspec 中的 packageType 声明。
type PackageType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Dependency 记录某个目标框架下对其他包的依赖；TargetFramework 为空表示不区分框架。
type Dependency struct {
	ID              string `json:"id"`
	Range           string `json:"range,omitempty"`
	TargetFramework string `json:"targetFramework,omitempty"`
}

// Package 是元数据存储中的一条记录，身份为 (ID, VersionString())。
// Key 由存储分配，仅用于稳定分页。
type Package struct {
	Key              int64              `json:"key"`
	ID               string             `json:"id"`
	Version          versioning.Version `json:"version"`
	Listed           bool               `json:"listed"`
	Downloads        int64              `json:"downloads"`
	Description      string             `json:"description,omitempty"`
	Authors          []string           `json:"authors,omitempty"`
	Summary          string             `json:"summary,omitempty"`
	Title            string             `json:"title,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
	IconURL          string             `json:"iconUrl,omitempty"`
	LicenseURL       string             `json:"licenseUrl,omitempty"`
	ProjectURL       string             `json:"projectUrl,omitempty"`
	Published        time.Time          `json:"published"`
	PackageTypes     []PackageType      `json:"packageTypes,omitempty"`
	TargetFrameworks []string           `json:"targetFrameworks,omitempty"`
	Dependencies     []Dependency       `json:"dependencies,omitempty"`
}

// VersionString 返回规范化版本，始终由 Version 推导，二者不会分叉。
func (p *Package) VersionString() string {
	return p.Version.String()
}

func (p *Package) IsPrerelease() bool {
	return p.Version.IsPrerelease()
}

// SemVerLevel 由版本本身与依赖区间共同决定。
func (p *Package) SemVerLevel() SemVerLevel {
	if p.Version.IsSemVer2() {
		return SemVer2
	}
	for _, dep := range p.Dependencies {
		r, err := versioning.ParseRange(dep.Range)
		if err == nil && r.IsSemVer2() {
			return SemVer2
		}
	}
	return SemVer1
}

// HasPackageType 判断是否声明了指定类型（大小写不敏感）。
func (p *Package) HasPackageType(name string) bool {
	for _, pt := range p.PackageTypes {
		if strings.EqualFold(pt.Name, name) {
			return true
		}
	}
	return false
}

// TargetsAny 判断声明的目标框架是否与 monikers 有交集。
func (p *Package) TargetsAny(monikers []string) bool {
	for _, tf := range p.TargetFrameworks {
		for _, m := range monikers {
			if strings.EqualFold(tf, m) {
				return true
			}
		}
	}
	return false
}

// DependsOn 判断是否依赖 id（大小写不敏感）。
func (p *Package) DependsOn(id string) bool {
	for _, dep := range p.Dependencies {
		if strings.EqualFold(dep.ID, id) {
			return true
		}
	}
	return false
}

// Clone 返回深拷贝，调用方修改副本不会影响存储层持有的数据。
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	out := *p
	out.Authors = append([]string(nil), p.Authors...)
	out.Tags = append([]string(nil), p.Tags...)
	out.PackageTypes = append([]PackageType(nil), p.PackageTypes...)
	out.TargetFrameworks = append([]string(nil), p.TargetFrameworks...)
	out.Dependencies = append([]Dependency(nil), p.Dependencies...)
	return &out
}

// DependencyIDs 返回去重后的小写依赖 ID，供存储层建立倒排字段。
func (p *Package) DependencyIDs() []string {
	seen := make(map[string]struct{}, len(p.Dependencies))
	ids := make([]string, 0, len(p.Dependencies))
	for _, dep := range p.Dependencies {
		id := strings.ToLower(dep.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// NormalizeFrameworks 将依赖组中出现的框架名称规范化并合并进 TargetFrameworks。
func (p *Package) NormalizeFrameworks() {
	seen := map[string]struct{}{}
	var out []string
	add := func(raw string) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		m := frameworks.Normalize(raw)
		if _, ok := seen[m]; ok {
			return
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	for _, tf := range p.TargetFrameworks {
		add(tf)
	}
	for i := range p.Dependencies {
		if p.Dependencies[i].TargetFramework != "" {
			p.Dependencies[i].TargetFramework = frameworks.Normalize(p.Dependencies[i].TargetFramework)
			add(p.Dependencies[i].TargetFramework)
		}
	}
	p.TargetFrameworks = out
}
