// Package search answers the NuGet search, autocomplete and dependents
// queries from the metadata store.
//
// The store pages over distinct package ids and returns every version of
// the ids on the page; this package folds those rows into one result per
// id, picking the highest version as the representative record.
package search

import (
	"context"
	"time"

	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/metadata"
)

// 查询参数缺省时使用的分页窗口。
const (
	DefaultSkip = 0
	DefaultTake = 20
)

// Request 描述一次搜索。Framework 为空表示不按目标框架过滤。
type Request struct {
	Query             string
	Skip              int
	Take              int
	IncludePrerelease bool
	IncludeSemVer2    bool
	PackageType       string
	Framework         string
}

// NewRequest 返回带默认分页、包含预发布与 SemVer2 的请求。
func NewRequest(query string) Request {
	return Request{
		Query:             query,
		Skip:              DefaultSkip,
		Take:              DefaultTake,
		IncludePrerelease: true,
		IncludeSemVer2:    true,
	}
}

// Result 对应 NuGet 搜索响应 data[] 中的一项。
type Result struct {
	ID             string          `json:"id"`
	Version        string          `json:"version"`
	Description    string          `json:"description,omitempty"`
	Authors        []string        `json:"authors,omitempty"`
	IconURL        string          `json:"iconUrl,omitempty"`
	LicenseURL     string          `json:"licenseUrl,omitempty"`
	ProjectURL     string          `json:"projectUrl,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Title          string          `json:"title,omitempty"`
	PackageTypes   []string        `json:"packageTypes,omitempty"`
	Published      time.Time       `json:"published"`
	TotalDownloads int64           `json:"totalDownloads"`
	Versions       []VersionResult `json:"versions"`
}

// VersionResult 是某个版本及其下载量。
type VersionResult struct {
	Version   string `json:"version"`
	Downloads int64  `json:"downloads"`
}

// Response 是 /v3/search 的响应体。
type Response struct {
	TotalHits int      `json:"totalHits"`
	Data      []Result `json:"data"`
}

// AutocompleteResponse 是 /v3/autocomplete 的响应体。
type AutocompleteResponse struct {
	TotalHits int      `json:"totalHits"`
	Data      []string `json:"data"`
}

// DependentsResponse 是 /v3/dependents 的响应体。
type DependentsResponse struct {
	TotalHits int      `json:"totalHits"`
	Data      []string `json:"data"`
}

// Service 是搜索能力。没有匹配时返回空切片而不是错误。
type Service interface {
	Search(ctx context.Context, req Request) ([]Result, error)
	Autocomplete(ctx context.Context, query string, skip, take int) ([]string, error)
	Dependents(ctx context.Context, packageID string, skip, take int) ([]string, error)
}

// New 根据 [Search].Type 选择实现，进程内只调用一次。
func New(cfg config.SearchConfig, store metadata.Store) Service {
	if cfg.Type == config.SearchNull {
		return Null{}
	}
	return NewDatabase(store)
}

// Null 在关闭搜索时使用，所有查询都返回空结果。
type Null struct{}

func (Null) Search(context.Context, Request) ([]Result, error) {
	return []Result{}, nil
}

func (Null) Autocomplete(context.Context, string, int, int) ([]string, error) {
	return []string{}, nil
}

func (Null) Dependents(context.Context, string, int, int) ([]string, error) {
	return []string{}, nil
}

var (
	_ Service = Null{}
	_ Service = (*Database)(nil)
)
