package metadata

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/boltdb/bolt"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

var (
	packagesBucket = []byte("packages")
	identityBucket = []byte("identity")
)

const boltOpenTimeout = time.Second

// boltStore 以 Key（大端序）为主键保存 JSON 文档，identity 桶维护唯一约束。
// bolt 单写事务保证“检查 + 写入”在同一事务内完成。
type boltStore struct {
	db *bolt.DB
}

// NewBoltStore 打开（必要时创建）path 指向的 bolt 文件。
func NewBoltStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("bolt path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt: %w", packages.ErrStoreUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(packagesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(identityBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create buckets: %w", packages.ErrStoreUnavailable, err)
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func (s *boltStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	err := s.db.View(func(tx *bolt.Tx) error {
		count = int64(tx.Bucket(packagesBucket).Stats().KeyN)
		return nil
	})
	return count, wrapBoltErr("count", err)
}

func (s *boltStore) Find(ctx context.Context, id string, version versioning.Version, includeUnlisted bool) (*packages.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var found *packages.Package
	err := s.db.View(func(tx *bolt.Tx) error {
		pkg, err := lookup(tx, identityKey(id, version))
		if err != nil {
			return err
		}
		if !includeUnlisted && !pkg.Listed {
			return packages.ErrNotFound
		}
		found = pkg
		return nil
	})
	if err != nil {
		return nil, wrapBoltErr("find", err)
	}
	return found, nil
}

func (s *boltStore) FindAll(ctx context.Context, id string, includeUnlisted bool) ([]*packages.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []*packages.Package
	err := s.db.View(func(tx *bolt.Tx) error {
		return scanIdentity(tx, id, func(key []byte) error {
			pkg, err := decodeAt(tx, key)
			if err != nil {
				return err
			}
			if includeUnlisted || pkg.Listed {
				result = append(result, pkg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapBoltErr("find all", err)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *boltStore) Exists(ctx context.Context, id string, version *versioning.Version) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if version != nil {
			exists = tx.Bucket(identityBucket).Get([]byte(identityKey(id, *version))) != nil
			return nil
		}
		return scanIdentity(tx, id, func([]byte) error {
			exists = true
			return errStopScan
		})
	})
	return exists, wrapBoltErr("exists", err)
}

func (s *boltStore) Insert(ctx context.Context, pkg *packages.Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return insertTx(tx, pkg)
	})
	return wrapBoltErr("insert", err)
}

func (s *boltStore) InsertMany(ctx context.Context, pkgs []*packages.Package) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	inserted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		inserted = 0
		for _, pkg := range pkgs {
			err := insertTx(tx, pkg)
			if errors.Is(err, packages.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, wrapBoltErr("insert many", err)
	}
	return inserted, nil
}

func (s *boltStore) Replace(ctx context.Context, pkg *packages.Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return replaceTx(tx, pkg)
	})
	return wrapBoltErr("replace", err)
}

func (s *boltStore) ReplaceMany(ctx context.Context, pkgs []*packages.Package) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, pkg := range pkgs {
			if err := replaceTx(tx, pkg); err != nil && !errors.Is(err, packages.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	return wrapBoltErr("replace many", err)
}

func (s *boltStore) HardDelete(ctx context.Context, id string, version versioning.Version) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		identity := tx.Bucket(identityBucket)
		ik := []byte(identityKey(id, version))
		key := identity.Get(ik)
		if key == nil {
			return nil
		}
		key = append([]byte(nil), key...)
		if err := tx.Bucket(packagesBucket).Delete(key); err != nil {
			return err
		}
		if err := identity.Delete(ik); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, wrapBoltErr("hard delete", err)
}

func (s *boltStore) Page(ctx context.Context, pageIndex, pageSize int) ([]*packages.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageIndex < 0 || pageSize <= 0 {
		return nil, nil
	}
	offset := pageIndex * pageSize
	result := make([]*packages.Package, 0, pageSize)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(packagesBucket).Cursor()
		skipped := 0
		for k, v := c.First(); k != nil && len(result) < pageSize; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			pkg, err := decodePackage(k, v)
			if err != nil {
				return err
			}
			result = append(result, pkg)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBoltErr("page", err)
	}
	return result, nil
}

func (s *boltStore) Search(ctx context.Context, q SearchQuery) ([]*packages.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	skip, take := normalizeWindow(q.Skip, q.Take)
	needle := strings.ToLower(q.Query)

	var result []*packages.Package
	err := s.db.View(func(tx *bolt.Tx) error {
		matched := map[string]struct{}{}
		err := forEachPackage(tx, func(pkg *packages.Package) error {
			if matchesSearch(pkg, needle, q) {
				matched[strings.ToLower(pkg.ID)] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(matched))
		for id := range matched {
			ids = append(ids, id)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(ids)))
		ids = window(ids, skip, take)
		if len(ids) == 0 {
			return nil
		}

		rank := make(map[string]int, len(ids))
		for i, id := range ids {
			rank[id] = i
		}
		err = forEachPackage(tx, func(pkg *packages.Package) error {
			if _, ok := rank[strings.ToLower(pkg.ID)]; ok {
				result = append(result, pkg)
			}
			return nil
		})
		if err != nil {
			return err
		}
		sort.SliceStable(result, func(i, j int) bool {
			return rank[strings.ToLower(result[i].ID)] < rank[strings.ToLower(result[j].ID)]
		})
		return nil
	})
	if err != nil {
		return nil, wrapBoltErr("search", err)
	}
	return result, nil
}

func (s *boltStore) Autocomplete(ctx context.Context, query string, skip, take int) ([]string, error) {
	needle := strings.ToLower(query)
	return s.rankListed(ctx, "autocomplete", skip, take, func(pkg *packages.Package) bool {
		return strings.Contains(strings.ToLower(pkg.ID), needle)
	})
}

func (s *boltStore) Dependents(ctx context.Context, packageID string, skip, take int) ([]string, error) {
	return s.rankListed(ctx, "dependents", skip, take, func(pkg *packages.Package) bool {
		return pkg.DependsOn(packageID)
	})
}

// rankListed 对满足条件的已上架记录按 id 聚合下载量，降序输出 id。
func (s *boltStore) rankListed(ctx context.Context, op string, skip, take int, match func(*packages.Package) bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	skip, take = normalizeWindow(skip, take)
	totals := map[string]int64{}
	// 同一 id 的不同写法合并统计，展示最后写入的记录所用写法。
	display := map[string]*packages.Package{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEachPackage(tx, func(pkg *packages.Package) error {
			if pkg.Listed && match(pkg) {
				key := strings.ToLower(pkg.ID)
				totals[key] += pkg.Downloads
				if prev, ok := display[key]; !ok || prev.Key < pkg.Key {
					display[key] = pkg
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapBoltErr(op, err)
	}

	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if totals[keys[i]] != totals[keys[j]] {
			return totals[keys[i]] > totals[keys[j]]
		}
		return keys[i] < keys[j]
	})
	keys = window(keys, skip, take)
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, display[key].ID)
	}
	return ids, nil
}

func matchesSearch(pkg *packages.Package, needle string, q SearchQuery) bool {
	if !pkg.Listed {
		return false
	}
	if needle != "" && !strings.Contains(strings.ToLower(pkg.ID), needle) {
		return false
	}
	if !q.IncludePrerelease && pkg.IsPrerelease() {
		return false
	}
	if !q.IncludeSemVer2 && pkg.SemVerLevel() == packages.SemVer2 {
		return false
	}
	if q.PackageType != "" && !pkg.HasPackageType(q.PackageType) {
		return false
	}
	if q.Frameworks != nil && !pkg.TargetsAny(q.Frameworks) {
		return false
	}
	return true
}

func window(ids []string, skip, take int) []string {
	if skip >= len(ids) {
		return nil
	}
	ids = ids[skip:]
	if take < len(ids) {
		ids = ids[:take]
	}
	return ids
}

var errStopScan = errors.New("stop scan")

// scanIdentity 遍历 identity 桶中属于 id 的全部条目，fn 收到对应的主键。
func scanIdentity(tx *bolt.Tx, id string, fn func(key []byte) error) error {
	prefix := []byte(strings.ToLower(id) + "\x00")
	c := tx.Bucket(identityBucket).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func forEachPackage(tx *bolt.Tx, fn func(*packages.Package) error) error {
	return tx.Bucket(packagesBucket).ForEach(func(k, v []byte) error {
		pkg, err := decodePackage(k, v)
		if err != nil {
			return err
		}
		return fn(pkg)
	})
}

func lookup(tx *bolt.Tx, identity string) (*packages.Package, error) {
	key := tx.Bucket(identityBucket).Get([]byte(identity))
	if key == nil {
		return nil, packages.ErrNotFound
	}
	return decodeAt(tx, key)
}

func decodeAt(tx *bolt.Tx, key []byte) (*packages.Package, error) {
	raw := tx.Bucket(packagesBucket).Get(key)
	if raw == nil {
		return nil, fmt.Errorf("dangling identity entry for key %x", key)
	}
	return decodePackage(key, raw)
}

func decodePackage(key, raw []byte) (*packages.Package, error) {
	var pkg packages.Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("decode package %x: %w", key, err)
	}
	pkg.Key = int64(binary.BigEndian.Uint64(key))
	return &pkg, nil
}

func insertTx(tx *bolt.Tx, pkg *packages.Package) error {
	identity := tx.Bucket(identityBucket)
	ik := []byte(identityKey(pkg.ID, pkg.Version))
	if identity.Get(ik) != nil {
		return packages.ErrAlreadyExists
	}

	bucket := tx.Bucket(packagesBucket)
	seq, err := bucket.NextSequence()
	if err != nil {
		return err
	}
	key := encodeKey(seq)

	stored := *pkg
	stored.Key = int64(seq)
	raw, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode package: %w", err)
	}
	if err := bucket.Put(key, raw); err != nil {
		return err
	}
	if err := identity.Put(ik, key); err != nil {
		return err
	}
	pkg.Key = stored.Key
	return nil
}

func replaceTx(tx *bolt.Tx, pkg *packages.Package) error {
	key := tx.Bucket(identityBucket).Get([]byte(identityKey(pkg.ID, pkg.Version)))
	if key == nil {
		return packages.ErrNotFound
	}
	key = append([]byte(nil), key...)

	stored := *pkg
	stored.Key = int64(binary.BigEndian.Uint64(key))
	raw, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode package: %w", err)
	}
	if err := tx.Bucket(packagesBucket).Put(key, raw); err != nil {
		return err
	}
	pkg.Key = stored.Key
	return nil
}

func encodeKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// wrapBoltErr 保留领域哨兵错误，其余错误归类为 ErrStoreUnavailable。
func wrapBoltErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, packages.ErrNotFound) || errors.Is(err, packages.ErrAlreadyExists) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("bolt %s: %w: %w", op, packages.ErrStoreUnavailable, err)
}
