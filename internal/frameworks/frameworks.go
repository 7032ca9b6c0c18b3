// Package frameworks resolves target framework monikers (net472,
// netstandard2.0, net8.0 ...) and the set of monikers a consumer targeting one
// framework can install packages for.
package frameworks

import (
	"fmt"
	"strconv"
	"strings"
)

// Family 区分 .NET 平台家族。
type Family int

const (
	FamilyUnknown Family = iota
	FamilyNetFramework
	FamilyNetStandard
	FamilyNetCoreApp
	FamilyNet
)

// Framework 是解析后的目标框架，Version 以 major*100+minor*10+build 编码。
type Framework struct {
	Family  Family
	Version int
}

// Moniker 输出短名称，例如 net472、netstandard2.0、net8.0。
func (f Framework) Moniker() string {
	major, minor, build := f.Version/100, (f.Version/10)%10, f.Version%10
	switch f.Family {
	case FamilyNetFramework:
		if build > 0 {
			return fmt.Sprintf("net%d%d%d", major, minor, build)
		}
		return fmt.Sprintf("net%d%d", major, minor)
	case FamilyNetStandard:
		return fmt.Sprintf("netstandard%d.%d", major, minor)
	case FamilyNetCoreApp:
		return fmt.Sprintf("netcoreapp%d.%d", major, minor)
	case FamilyNet:
		return fmt.Sprintf("net%d.%d", major, minor)
	}
	return ""
}

// known 按家族、版本升序排列，兼容集合按此顺序输出。
var known = []Framework{
	{FamilyNetFramework, 110}, {FamilyNetFramework, 200}, {FamilyNetFramework, 350},
	{FamilyNetFramework, 400}, {FamilyNetFramework, 403}, {FamilyNetFramework, 450},
	{FamilyNetFramework, 451}, {FamilyNetFramework, 452}, {FamilyNetFramework, 460},
	{FamilyNetFramework, 461}, {FamilyNetFramework, 462}, {FamilyNetFramework, 470},
	{FamilyNetFramework, 471}, {FamilyNetFramework, 472}, {FamilyNetFramework, 480},
	{FamilyNetFramework, 481},
	{FamilyNetStandard, 100}, {FamilyNetStandard, 110}, {FamilyNetStandard, 120},
	{FamilyNetStandard, 130}, {FamilyNetStandard, 140}, {FamilyNetStandard, 150},
	{FamilyNetStandard, 160}, {FamilyNetStandard, 200}, {FamilyNetStandard, 210},
	{FamilyNetCoreApp, 100}, {FamilyNetCoreApp, 110}, {FamilyNetCoreApp, 200},
	{FamilyNetCoreApp, 210}, {FamilyNetCoreApp, 220}, {FamilyNetCoreApp, 300},
	{FamilyNetCoreApp, 310},
	{FamilyNet, 500}, {FamilyNet, 600}, {FamilyNet, 700}, {FamilyNet, 800}, {FamilyNet, 900},
}

// Parse 识别短名称与 .NETFramework,Version=v4.7.2 这类长名称，平台后缀（-windows）会被忽略。
func Parse(raw string) (Framework, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return Framework{}, false
	}
	if strings.HasPrefix(value, ".") {
		return parseLong(value)
	}
	if base, _, ok := strings.Cut(value, "-"); ok {
		value = base
	}

	switch {
	case strings.HasPrefix(value, "netstandard"):
		return parseDotted(FamilyNetStandard, strings.TrimPrefix(value, "netstandard"))
	case strings.HasPrefix(value, "netcoreapp"):
		return parseDotted(FamilyNetCoreApp, strings.TrimPrefix(value, "netcoreapp"))
	case strings.HasPrefix(value, "net"):
		rest := strings.TrimPrefix(value, "net")
		if strings.Contains(rest, ".") {
			f, ok := parseDotted(FamilyNet, rest)
			if ok && f.Version < 500 {
				f.Family = FamilyNetFramework
			}
			return f, ok
		}
		return parseCompact(rest)
	}
	return Framework{}, false
}

// Normalize 返回规范短名称；无法识别时返回小写原值。
func Normalize(raw string) string {
	if f, ok := Parse(raw); ok {
		return f.Moniker()
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func parseLong(value string) (Framework, bool) {
	name, version, _ := strings.Cut(value, ",version=")
	version = strings.TrimPrefix(version, "v")

	var family Family
	switch {
	case strings.HasPrefix(name, ".netframework"):
		family, name = FamilyNetFramework, strings.TrimPrefix(name, ".netframework")
	case strings.HasPrefix(name, ".netstandard"):
		family, name = FamilyNetStandard, strings.TrimPrefix(name, ".netstandard")
	case strings.HasPrefix(name, ".netcoreapp"):
		family, name = FamilyNetCoreApp, strings.TrimPrefix(name, ".netcoreapp")
	default:
		return Framework{}, false
	}
	if version == "" {
		version = name
	}
	f, ok := parseDotted(family, version)
	if ok && family == FamilyNetCoreApp && f.Version >= 500 {
		f.Family = FamilyNet
	}
	return f, ok
}

func parseDotted(family Family, raw string) (Framework, bool) {
	parts := strings.Split(raw, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return Framework{}, false
	}
	weights := []int{100, 10, 1}
	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || (i > 0 && n > 9) {
			return Framework{}, false
		}
		total += n * weights[i]
	}
	if total == 0 {
		return Framework{}, false
	}
	return Framework{Family: family, Version: total}, true
}

func parseCompact(digits string) (Framework, bool) {
	if len(digits) < 2 || len(digits) > 3 {
		return Framework{}, false
	}
	total := 0
	weights := []int{100, 10, 1}
	for i, r := range digits {
		if r < '0' || r > '9' {
			return Framework{}, false
		}
		total += int(r-'0') * weights[i]
	}
	if total < 110 || total >= 500 {
		return Framework{}, false
	}
	return Framework{Family: FamilyNetFramework, Version: total}, true
}

// Compatible 返回可被 moniker 消费的全部框架短名称（包含自身）。
// 未识别的名称只返回自身，不会报错。
func Compatible(moniker string) []string {
	target, ok := Parse(moniker)
	if !ok {
		return []string{moniker}
	}

	self := target.Moniker()
	result := []string{self}
	for _, candidate := range known {
		if candidate == target {
			continue
		}
		if supports(target, candidate) {
			result = append(result, candidate.Moniker())
		}
	}
	return result
}

// supports 判断面向 target 的项目能否引用面向 candidate 的包。
func supports(target, candidate Framework) bool {
	switch target.Family {
	case FamilyNetStandard:
		return candidate.Family == FamilyNetStandard && candidate.Version <= target.Version
	case FamilyNetCoreApp:
		switch candidate.Family {
		case FamilyNetCoreApp:
			return candidate.Version <= target.Version
		case FamilyNetStandard:
			return candidate.Version <= coreAppStandardLevel(target.Version)
		}
	case FamilyNet:
		switch candidate.Family {
		case FamilyNet:
			return candidate.Version <= target.Version
		case FamilyNetCoreApp:
			return true
		case FamilyNetStandard:
			return candidate.Version <= 210
		}
	case FamilyNetFramework:
		switch candidate.Family {
		case FamilyNetFramework:
			return candidate.Version <= target.Version
		case FamilyNetStandard:
			return candidate.Version <= frameworkStandardLevel(target.Version)
		}
	}
	return false
}

func coreAppStandardLevel(version int) int {
	switch {
	case version >= 300:
		return 210
	case version >= 200:
		return 200
	default:
		return 160
	}
}

// frameworkStandardLevel 对应 .NET Framework 与 .NET Standard 的官方支持表，net40 及以下不支持。
func frameworkStandardLevel(version int) int {
	switch {
	case version >= 461:
		return 200
	case version >= 460:
		return 130
	case version >= 451:
		return 120
	case version >= 450:
		return 110
	default:
		return 0
	}
}
