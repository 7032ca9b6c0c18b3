package packages

import "errors"

var (
	// ErrNotFound 表示本地与上游（若适用）均不存在该包。
	ErrNotFound = errors.New("package not found")
	// ErrAlreadyExists 表示 (Id, Version) 已被其他写入方占用。
	ErrAlreadyExists = errors.New("package already exists")
	// ErrUpstreamUnavailable 表示上游暂时不可达，调用方可重试。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStoreUnavailable 表示元数据存储不可用。
	ErrStoreUnavailable = errors.New("metadata store unavailable")
)
