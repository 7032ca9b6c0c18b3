package versioning

import "sort"

// SortBy 按 version 取出的版本原地稳定排序。
func SortBy[T any](items []T, version func(T) Version, descending bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if descending {
			return version(items[j]).LessThan(version(items[i]))
		}
		return version(items[i]).LessThan(version(items[j]))
	})
}

// SortAscending 原地按版本从低到高排序。
func SortAscending(versions []Version) {
	SortBy(versions, identity, false)
}

func identity(v Version) Version { return v }
