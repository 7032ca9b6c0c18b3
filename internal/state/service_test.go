package state

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/any-hub/nuget-hub/internal/metadata"
	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

func newTestService(t *testing.T) (*Service, metadata.Store) {
	t.Helper()
	store, err := metadata.NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil), store
}

func newPackage(id, version string) *packages.Package {
	return &packages.Package{ID: id, Version: versioning.MustParse(version), Listed: true}
}

func TestAddReportsAlreadyExists(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Add(ctx, newPackage("Foo", "1.0.0"))
	if err != nil || res != AddSuccess {
		t.Fatalf("first add: res=%v err=%v", res, err)
	}
	res, err = svc.Add(ctx, newPackage("foo", "1.0"))
	if err != nil || res != AddAlreadyExists {
		t.Fatalf("second add: res=%v err=%v", res, err)
	}
}

// racingStore 让 Exists 总是返回 false，模拟先查后写之间被其他写入方抢先。
type racingStore struct {
	metadata.Store
}

func (racingStore) Exists(context.Context, string, *versioning.Version) (bool, error) {
	return false, nil
}

func TestAddMapsDuplicateKeyToAlreadyExists(t *testing.T) {
	_, store := newTestService(t)
	svc := New(racingStore{Store: store}, nil)
	ctx := context.Background()

	if _, err := svc.Add(ctx, newPackage("Foo", "1.0.0")); err != nil {
		t.Fatalf("first add: %v", err)
	}
	res, err := svc.Add(ctx, newPackage("Foo", "1.0.0"))
	if err != nil || res != AddAlreadyExists {
		t.Fatalf("duplicate insert should map to AddAlreadyExists: res=%v err=%v", res, err)
	}
}

func TestConcurrentAddKeepsOneRecord(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan AddResult, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Add(ctx, newPackage("Foo", "1.0.0"))
			if err != nil {
				t.Errorf("add error: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for res := range results {
		if res == AddSuccess {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d", successes)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("expected one record, got %d", n)
	}
}

func TestUnlistRelistRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v := versioning.MustParse("1.0.0")
	if _, err := svc.Add(ctx, newPackage("Foo", "1.0.0")); err != nil {
		t.Fatalf("add: %v", err)
	}

	ok, err := svc.Unlist(ctx, "FOO", v)
	if err != nil || !ok {
		t.Fatalf("unlist: ok=%v err=%v", ok, err)
	}
	if _, err := svc.Find(ctx, "Foo", v, false); !errors.Is(err, packages.ErrNotFound) {
		t.Fatalf("unlisted package should be hidden, got %v", err)
	}
	if pkg, err := svc.Find(ctx, "Foo", v, true); err != nil || pkg.Listed {
		t.Fatalf("unlisted package must remain retrievable: %+v %v", pkg, err)
	}

	ok, err = svc.Relist(ctx, "Foo", v)
	if err != nil || !ok {
		t.Fatalf("relist: ok=%v err=%v", ok, err)
	}
	if _, err := svc.Find(ctx, "Foo", v, false); err != nil {
		t.Fatalf("relisted package should be visible: %v", err)
	}
}

func TestMutationsOnMissingPackageReturnFalse(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v := versioning.MustParse("1.0.0")

	for name, fn := range map[string]func(context.Context, string, versioning.Version) (bool, error){
		"unlist":   svc.Unlist,
		"relist":   svc.Relist,
		"download": svc.AddDownload,
	} {
		ok, err := fn(ctx, "Missing", v)
		if err != nil || ok {
			t.Fatalf("%s on missing package: ok=%v err=%v", name, ok, err)
		}
	}
}

func TestAddDownloadIsMonotonic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v := versioning.MustParse("1.0.0")
	if _, err := svc.Add(ctx, newPackage("Foo", "1.0.0")); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < 5; i++ {
		if ok, err := svc.AddDownload(ctx, "Foo", v); err != nil || !ok {
			t.Fatalf("add download %d: ok=%v err=%v", i, ok, err)
		}
	}
	pkg, err := svc.Find(ctx, "Foo", v, true)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if pkg.Downloads != 5 {
		t.Fatalf("expected 5 downloads, got %d", pkg.Downloads)
	}
}

func TestHardDeleteIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v := versioning.MustParse("1.0.0")
	if _, err := svc.Add(ctx, newPackage("Foo", "1.0.0")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if deleted, err := svc.HardDelete(ctx, "Foo", v); err != nil || !deleted {
		t.Fatalf("first delete: deleted=%v err=%v", deleted, err)
	}
	if deleted, err := svc.HardDelete(ctx, "Foo", v); err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
	if _, err := svc.Find(ctx, "Foo", v, true); !errors.Is(err, packages.ErrNotFound) {
		t.Fatalf("hard deleted package must be gone, got %v", err)
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	svc, store := newTestService(t)
	_ = store.Close()

	_, err := svc.Add(context.Background(), newPackage("Foo", "1.0.0"))
	if !errors.Is(err, packages.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
