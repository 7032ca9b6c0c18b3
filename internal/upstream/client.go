package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/version"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// Source 是镜像层依赖的上游能力。
type Source interface {
	ListVersions(ctx context.Context, id string) ([]versioning.Version, error)
	FetchPackages(ctx context.Context, id string) ([]*packages.Package, error)
	FetchPackage(ctx context.Context, id string, v versioning.Version) (*packages.Package, io.ReadCloser, error)
}

// Client 访问单个 NuGet v3 源，可被多个 goroutine 共享。
type Client struct {
	source         string
	host           string
	http           *http.Client
	content        *http.Client
	userAgent      string
	maxRetries     uint64
	initialBackoff time.Duration
	breaker        *circuit.Breaker
	logger         *logrus.Logger

	mu        sync.Mutex
	endpoints *endpoints
}

type endpoints struct {
	packageBase   string
	registrations string
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 设置访问服务索引与注册表的 http.Client。
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithContentHTTPClient 设置下载 .nupkg 的 http.Client，通常超时更长。
func WithContentHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.content = c
	}
}

// WithRetry 设置最大重试次数与首次退避间隔。
func WithRetry(maxRetries int, initial time.Duration) Option {
	return func(cl *Client) {
		if maxRetries >= 0 {
			cl.maxRetries = uint64(maxRetries)
		}
		if initial > 0 {
			cl.initialBackoff = initial
		}
	}
}

// WithLogger 设置重试与熔断日志的输出。
func WithLogger(logger *logrus.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithBreaker 替换默认熔断器（连续 5 次失败跳闸）。
func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		cl.breaker = b
	}
}

// NewClient 创建指向服务索引 source 的客户端，服务索引在首次调用时才会解析。
func NewClient(source string, opts ...Option) *Client {
	host := source
	if parsed, err := url.Parse(source); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	c := &Client{
		source:         source,
		host:           host,
		http:           http.DefaultClient,
		userAgent:      version.UserAgent(),
		maxRetries:     3,
		initialBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.content == nil {
		c.content = c.http
	}
	if c.breaker == nil {
		c.breaker = newBreaker()
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
	return c
}

func newBreaker() *circuit.Breaker {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	return circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
}

// ListVersions 返回上游仍处于 listed 状态的全部版本。
func (c *Client) ListVersions(ctx context.Context, id string) ([]versioning.Version, error) {
	pkgs, err := c.FetchPackages(ctx, id)
	if err != nil {
		return nil, err
	}
	versions := make([]versioning.Version, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pkg.Listed {
			versions = append(versions, pkg.Version)
		}
	}
	return versions, nil
}

// FetchPackages 读取注册表中该 id 的全部版本元数据（含 unlisted）。
func (c *Client) FetchPackages(ctx context.Context, id string) ([]*packages.Package, error) {
	leaves, err := c.registrationLeaves(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*packages.Package, 0, len(leaves))
	for _, leaf := range leaves {
		pkg, err := leaf.CatalogEntry.toPackage(id)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"action":     "upstream_skip_leaf",
				"package_id": id,
			}).Warn(err.Error())
			continue
		}
		out = append(out, pkg)
	}
	return out, nil
}

// FetchPackage 返回指定版本的元数据与内容流，调用方负责关闭内容流。
func (c *Client) FetchPackage(ctx context.Context, id string, v versioning.Version) (*packages.Package, io.ReadCloser, error) {
	leaves, err := c.registrationLeaves(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var found *packages.Package
	for _, leaf := range leaves {
		pkg, err := leaf.CatalogEntry.toPackage(id)
		if err != nil {
			continue
		}
		if pkg.Version.Equal(v) {
			found = pkg
			break
		}
	}
	if found == nil {
		return nil, nil, fmt.Errorf("upstream %s %s: %w", id, v.String(), packages.ErrNotFound)
	}

	body, err := c.DownloadContent(ctx, found.ID, found.Version)
	if err != nil {
		return nil, nil, err
	}
	return found, body, nil
}

// DownloadContent 从 flat container 下载 .nupkg。
func (c *Client) DownloadContent(ctx context.Context, id string, v versioning.Version) (io.ReadCloser, error) {
	ep, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	lowerID := strings.ToLower(id)
	lowerVersion := strings.ToLower(v.String())
	target := fmt.Sprintf("%s/%s/%s/%s.%s.nupkg", ep.packageBase, url.PathEscape(lowerID), url.PathEscape(lowerVersion), url.PathEscape(lowerID), url.PathEscape(lowerVersion))

	resp, err := c.get(ctx, c.content, target)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) registrationLeaves(ctx context.Context, id string) ([]registrationLeaf, error) {
	ep, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	var index registrationIndex
	target := fmt.Sprintf("%s/%s/index.json", ep.registrations, url.PathEscape(strings.ToLower(id)))
	if err := c.getJSON(ctx, target, &index); err != nil {
		return nil, err
	}

	var leaves []registrationLeaf
	for _, page := range index.Items {
		if page.Items == nil && page.ID != "" {
			var full registrationPage
			if err := c.getJSON(ctx, page.ID, &full); err != nil {
				return nil, err
			}
			page = full
		}
		leaves = append(leaves, page.Items...)
	}
	return leaves, nil
}

// resolve 解析服务索引并缓存结果；失败不缓存，下次调用会重试。
func (c *Client) resolve(ctx context.Context) (*endpoints, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints != nil {
		return c.endpoints, nil
	}

	var index serviceIndex
	if err := c.getJSON(ctx, c.source, &index); err != nil {
		if errors.Is(err, packages.ErrNotFound) {
			return nil, fmt.Errorf("service index %s missing: %w", c.source, packages.ErrUpstreamUnavailable)
		}
		return nil, err
	}
	base, ok := index.find(packageBaseAddressTypes)
	if !ok {
		return nil, fmt.Errorf("service index %s has no PackageBaseAddress: %w", c.source, packages.ErrUpstreamUnavailable)
	}
	registrations, ok := index.find(registrationsBaseURLTypes)
	if !ok {
		return nil, fmt.Errorf("service index %s has no RegistrationsBaseUrl: %w", c.source, packages.ErrUpstreamUnavailable)
	}
	c.endpoints = &endpoints{packageBase: base, registrations: registrations}
	return c.endpoints, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	resp, err := c.get(ctx, c.http, target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", target, packages.ErrUpstreamUnavailable, err)
	}
	return nil
}

// get 在熔断器内执行带退避重试的 GET，只返回 200 响应。
// NotFound 与调用方取消不计入熔断失败次数。
func (c *Client) get(ctx context.Context, client *http.Client, target string) (*http.Response, error) {
	var resp *http.Response
	var result error
	err := c.breaker.Call(func() error {
		resp, result = c.retry(ctx, client, target)
		if result == nil || errors.Is(result, packages.ErrNotFound) || ctx.Err() != nil {
			return nil
		}
		return result
	}, 0)
	if errors.Is(err, circuit.ErrBreakerOpen) {
		return nil, fmt.Errorf("upstream %s: circuit open: %w", c.host, packages.ErrUpstreamUnavailable)
	}
	if result != nil {
		return nil, result
	}
	return resp, nil
}

func (c *Client) retry(ctx context.Context, client *http.Client, target string) (*http.Response, error) {
	b := backoff.WithContext(retryPolicy(c.maxRetries, c.initialBackoff), ctx)

	var resp *http.Response
	op := func() error {
		r, err := c.once(ctx, client, target)
		if err != nil {
			if errors.Is(err, packages.ErrNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"action": "upstream_retry",
			"url":    target,
			"wait":   wait.String(),
		}).Warn(err.Error())
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, client *http.Client, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request %s: %w", target, err))
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %w", target, packages.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: %w", target, packages.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %d: %w", target, resp.StatusCode, packages.ErrUpstreamUnavailable)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, backoff.Permanent(fmt.Errorf("get %s: unexpected status %d (%s): %w", target, resp.StatusCode, strings.TrimSpace(string(body)), packages.ErrUpstreamUnavailable))
	}
}

// maxRetryElapsed 限制单次请求（含全部重试）的总退避时长。
const maxRetryElapsed = 2 * time.Minute

// retryPolicy 返回最多重试 maxRetries 次的退避策略。
// backoff.WithMaxRetries 把 0 当作不限次数，因此 0 次重试直接使用 StopBackOff。
func retryPolicy(maxRetries uint64, initial time.Duration) backoff.BackOff {
	if maxRetries == 0 {
		return &backoff.StopBackOff{}
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxElapsedTime = maxRetryElapsed
	policy.Reset()
	return backoff.WithMaxRetries(policy, maxRetries)
}

var _ Source = (*Client)(nil)
