package versioning

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver"
)

// ErrInvalidVersion 表示版本字符串无法按 NuGet 规则解析。
var ErrInvalidVersion = errors.New("invalid version")

// Version 在 semver 三段式基础上额外携带第四段 revision，兼容 NuGet 的 1.2.3.4 写法。
type Version struct {
	sem      semver.Version
	revision uint64
}

// Parse 接受 1~4 段数字、可选的 -prerelease 与 +metadata。
func Parse(raw string) (Version, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Version{}, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}

	core, meta, hasMeta := strings.Cut(value, "+")
	core, pre, hasPre := strings.Cut(core, "-")

	parts := strings.Split(core, ".")
	if len(parts) > 4 {
		return Version{}, fmt.Errorf("%w: %s", ErrInvalidVersion, raw)
	}
	nums := make([]uint64, 4)
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return Version{}, fmt.Errorf("%w: %s", ErrInvalidVersion, raw)
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %s", ErrInvalidVersion, raw)
		}
		nums[i] = n
	}

	v := Version{
		sem:      semver.Version{Major: nums[0], Minor: nums[1], Patch: nums[2]},
		revision: nums[3],
	}

	if hasPre {
		for _, ident := range strings.Split(pre, ".") {
			pr, err := semver.NewPRVersion(ident)
			if err != nil {
				return Version{}, fmt.Errorf("%w: %s: %v", ErrInvalidVersion, raw, err)
			}
			v.sem.Pre = append(v.sem.Pre, pr)
		}
	}
	if hasMeta {
		for _, ident := range strings.Split(meta, ".") {
			b, err := semver.NewBuildVersion(ident)
			if err != nil {
				return Version{}, fmt.Errorf("%w: %s: %v", ErrInvalidVersion, raw, err)
			}
			v.sem.Build = append(v.sem.Build, b)
		}
	}

	return v, nil
}

// MustParse 仅用于常量与测试。
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// String 返回规范化版本：固定三段，revision 非零时追加第四段，省略 metadata。
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.sem.Major, v.sem.Minor, v.sem.Patch)
	if v.revision > 0 {
		fmt.Fprintf(&b, ".%d", v.revision)
	}
	if len(v.sem.Pre) > 0 {
		b.WriteByte('-')
		b.WriteString(v.Release())
	}
	return b.String()
}

// FullString 在规范化版本后附带 metadata。
func (v Version) FullString() string {
	if len(v.sem.Build) == 0 {
		return v.String()
	}
	return v.String() + "+" + v.Metadata()
}

// Release 返回预发布标签，例如 beta.1。
func (v Version) Release() string {
	labels := make([]string, len(v.sem.Pre))
	for i, pr := range v.sem.Pre {
		labels[i] = pr.String()
	}
	return strings.Join(labels, ".")
}

func (v Version) Metadata() string {
	return strings.Join(v.sem.Build, ".")
}

func (v Version) Major() uint64    { return v.sem.Major }
func (v Version) Minor() uint64    { return v.sem.Minor }
func (v Version) Patch() uint64    { return v.sem.Patch }
func (v Version) Revision() uint64 { return v.revision }

func (v Version) IsZero() bool {
	return v.sem.Major == 0 && v.sem.Minor == 0 && v.sem.Patch == 0 && v.revision == 0 && len(v.sem.Pre) == 0
}

// IsPrerelease 判断是否携带预发布标签。
func (v Version) IsPrerelease() bool {
	return len(v.sem.Pre) > 0
}

// IsSemVer2 当预发布标签含多段或带 metadata 时成立，SemVer1 客户端无法识别这类版本。
func (v Version) IsSemVer2() bool {
	return len(v.sem.Pre) > 1 || len(v.sem.Build) > 0
}

// Compare 依次比较数字段、revision、预发布标签（大小写不敏感），忽略 metadata。
func (v Version) Compare(o Version) int {
	a := semver.Version{Major: v.sem.Major, Minor: v.sem.Minor, Patch: v.sem.Patch}
	b := semver.Version{Major: o.sem.Major, Minor: o.sem.Minor, Patch: o.sem.Patch}
	if c := a.Compare(b); c != 0 {
		return c
	}
	switch {
	case v.revision < o.revision:
		return -1
	case v.revision > o.revision:
		return 1
	}
	a.Pre = lowerPre(v.sem.Pre)
	b.Pre = lowerPre(o.sem.Pre)
	return a.Compare(b)
}

func (v Version) LessThan(o Version) bool { return v.Compare(o) < 0 }

// Equal 按版本语义比较，1.0 与 1.0.0 视为相等。
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func lowerPre(pre []semver.PRVersion) []semver.PRVersion {
	if len(pre) == 0 {
		return nil
	}
	out := make([]semver.PRVersion, len(pre))
	for i, pr := range pre {
		if !pr.IsNum {
			pr.VersionStr = strings.ToLower(pr.VersionStr)
		}
		out[i] = pr
	}
	return out
}

// MarshalText 序列化为带 metadata 的规范化字符串。
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.FullString()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
