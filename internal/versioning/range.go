package versioning

import (
	"fmt"
	"strings"
)

// Range 描述依赖声明中的版本区间，例如 [1.0.0, 2.0.0)。
type Range struct {
	Min          *Version
	MinInclusive bool
	Max          *Version
	MaxInclusive bool
}

// ParseRange 支持裸版本（最小包含）、[a]、[a,b]、(a,b)、[a,) 与 (,b] 等写法。
func ParseRange(raw string) (Range, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Range{}, nil
	}

	if value[0] != '[' && value[0] != '(' {
		v, err := Parse(value)
		if err != nil {
			return Range{}, err
		}
		return Range{Min: &v, MinInclusive: true}, nil
	}

	if len(value) < 3 {
		return Range{}, fmt.Errorf("%w: range %s", ErrInvalidVersion, raw)
	}
	last := value[len(value)-1]
	if last != ']' && last != ')' {
		return Range{}, fmt.Errorf("%w: range %s", ErrInvalidVersion, raw)
	}

	r := Range{MinInclusive: value[0] == '[', MaxInclusive: last == ']'}
	body := value[1 : len(value)-1]

	lower, upper, hasComma := strings.Cut(body, ",")
	if !hasComma {
		// [1.0] 表示精确版本
		if !r.MinInclusive || !r.MaxInclusive {
			return Range{}, fmt.Errorf("%w: range %s", ErrInvalidVersion, raw)
		}
		v, err := Parse(lower)
		if err != nil {
			return Range{}, err
		}
		r.Min, r.Max = &v, &v
		return r, nil
	}

	if s := strings.TrimSpace(lower); s != "" {
		v, err := Parse(s)
		if err != nil {
			return Range{}, err
		}
		r.Min = &v
	}
	if s := strings.TrimSpace(upper); s != "" {
		v, err := Parse(s)
		if err != nil {
			return Range{}, err
		}
		r.Max = &v
	}
	if r.Min == nil && r.Max == nil {
		return Range{}, fmt.Errorf("%w: range %s", ErrInvalidVersion, raw)
	}
	return r, nil
}

// IsSemVer2 当任一边界为 SemVer2 版本时成立。
func (r Range) IsSemVer2() bool {
	return (r.Min != nil && r.Min.IsSemVer2()) || (r.Max != nil && r.Max.IsSemVer2())
}

// Satisfies 判断 v 是否落在区间内。
func (r Range) Satisfies(v Version) bool {
	if r.Min != nil {
		c := v.Compare(*r.Min)
		if c < 0 || (c == 0 && !r.MinInclusive) {
			return false
		}
	}
	if r.Max != nil {
		c := v.Compare(*r.Max)
		if c > 0 || (c == 0 && !r.MaxInclusive) {
			return false
		}
	}
	return true
}

// String 输出规范化区间，例如 [1.0.0, )。
func (r Range) String() string {
	if r.Min == nil && r.Max == nil {
		return ""
	}
	if r.Min != nil && r.Max != nil && r.MinInclusive && r.MaxInclusive && r.Min.Equal(*r.Max) {
		return "[" + r.Min.String() + "]"
	}

	var b strings.Builder
	if r.MinInclusive {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	if r.Min != nil {
		b.WriteString(r.Min.String())
	}
	b.WriteString(", ")
	if r.Max != nil {
		b.WriteString(r.Max.String())
	}
	if r.MaxInclusive {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}
