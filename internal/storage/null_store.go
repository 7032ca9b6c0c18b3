package storage

import (
	"context"
	"io"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// nullStore 丢弃写入的内容，读取永远返回 ErrNotFound。
type nullStore struct{}

// NewNullStore 返回不持久化任何内容的 Store。
func NewNullStore() Store {
	return nullStore{}
}

func (nullStore) Put(ctx context.Context, _ string, _ versioning.Version, body io.Reader) error {
	_, err := copyWithContext(ctx, io.Discard, body)
	return err
}

func (nullStore) Get(context.Context, string, versioning.Version) (io.ReadCloser, error) {
	return nil, packages.ErrNotFound
}

func (nullStore) Delete(context.Context, string, versioning.Version) (bool, error) {
	return false, nil
}
