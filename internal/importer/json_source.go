package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenk/backoff"

	"github.com/any-hub/nuget-hub/internal/version"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// JSONSource 读取 downloads.v1.json 格式的快照：
//
//	[["Newtonsoft.Json", ["13.0.1", 1200], ["13.0.3", 900]], ...]
//
// Location 可以是本地路径或 http(s) URL。
type JSONSource struct {
	location       string
	client         *http.Client
	maxRetries     uint64
	initialBackoff time.Duration
}

// NewJSONSource 创建快照来源；client 为 nil 时使用 http.DefaultClient。
func NewJSONSource(location string, client *http.Client) *JSONSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &JSONSource{location: location, client: client, maxRetries: 3, initialBackoff: time.Second}
}

func (s *JSONSource) Fetch(ctx context.Context) (Table, error) {
	if s.location == "" {
		return nil, errors.New("downloads source not configured")
	}
	if strings.HasPrefix(s.location, "http://") || strings.HasPrefix(s.location, "https://") {
		return s.fetchRemote(ctx)
	}

	f, err := os.Open(s.location)
	if err != nil {
		return nil, fmt.Errorf("open downloads file: %w", err)
	}
	defer f.Close()
	return DecodeTable(f)
}

func (s *JSONSource) fetchRemote(ctx context.Context) (Table, error) {
	var table Table
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", version.UserAgent())
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("get %s: status %d", s.location, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("get %s: status %d", s.location, resp.StatusCode))
		}
		decoded, err := DecodeTable(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		table = decoded
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(retryPolicy(s.maxRetries, s.initialBackoff), ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return table, nil
}

// retryPolicy 中 0 表示只尝试一次；backoff.WithMaxRetries(…, 0) 不限次数，不能直接使用。
func retryPolicy(maxRetries uint64, initial time.Duration) backoff.BackOff {
	if maxRetries == 0 {
		return &backoff.StopBackOff{}
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxElapsedTime = 5 * time.Minute
	policy.Reset()
	return backoff.WithMaxRetries(policy, maxRetries)
}

// DecodeTable 流式解析快照，避免把整个文档读入内存。
// 无法解析的版本按原样小写保存；格式不符的条目被跳过。
func DecodeTable(r io.Reader) (Table, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	table := Table{}
	for dec.More() {
		var entry []json.RawMessage
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode downloads entry: %w", err)
		}
		if len(entry) == 0 {
			continue
		}
		var id string
		if err := json.Unmarshal(entry[0], &id); err != nil || id == "" {
			continue
		}
		for _, raw := range entry[1:] {
			var pair []json.RawMessage
			if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
				continue
			}
			var ver string
			var count int64
			if json.Unmarshal(pair[0], &ver) != nil || json.Unmarshal(pair[1], &count) != nil {
				continue
			}
			table.Set(id, normalizeVersion(ver), count)
		}
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return table, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode downloads: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("decode downloads: expected %q, got %v", want, tok)
	}
	return nil
}

func normalizeVersion(raw string) string {
	if v, err := versioning.Parse(raw); err == nil {
		return v.String()
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

var _ Source = (*JSONSource)(nil)
