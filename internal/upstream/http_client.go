package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// defaultTransport 集中配置连接复用与超时，每个 http.Client 克隆一份。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
}

// NewResolver 返回带缓存的 DNS 解析器，ctx 结束前按 interval 刷新。
func NewResolver(ctx context.Context, interval time.Duration) *dnscache.Resolver {
	resolver := &dnscache.Resolver{}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resolver.Refresh(true)
			}
		}
	}()
	return resolver
}

// NewHTTPClient 构建访问上游的 http.Client；timeout<=0 时不限制整体耗时，由调用方的 ctx 控制。
func NewHTTPClient(resolver *dnscache.Resolver, timeout time.Duration) *http.Client {
	transport := defaultTransport.Clone()
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if resolver == nil {
		transport.DialContext = dialer.DialContext
	} else {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			if len(ips) == 0 {
				return nil, fmt.Errorf("dial %s: no addresses", addr)
			}
			var lastErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, fmt.Errorf("dial %s: %w", addr, lastErr)
		}
	}

	client := &http.Client{Transport: transport}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}
