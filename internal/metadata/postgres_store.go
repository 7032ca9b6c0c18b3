package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/any-hub/nuget-hub/internal/packages"
	"github.com/any-hub/nuget-hub/internal/versioning"
)

// DBTX 抽象 *sql.DB 与 *sql.Tx，便于在事务内复用同一套语句。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const uniqueViolation = "23505"

const (
	countSQL = `SELECT COUNT(*) FROM packages`

	findSQL = `SELECT key, listed, downloads, document FROM packages
WHERE id_lower = $1 AND version_lower = $2`

	findAllSQL = `SELECT key, listed, downloads, document FROM packages
WHERE id_lower = $1 ORDER BY key`

	existsIDSQL = `SELECT EXISTS (SELECT 1 FROM packages WHERE id_lower = $1)`

	existsVersionSQL = `SELECT EXISTS (SELECT 1 FROM packages WHERE id_lower = $1 AND version_lower = $2)`

	insertSQL = `INSERT INTO packages
(id, id_lower, version, version_lower, listed, downloads, is_prerelease, semver_level,
 package_types, target_frameworks, dependency_ids, document)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING key`

	insertIgnoreSQL = `INSERT INTO packages
(id, id_lower, version, version_lower, listed, downloads, is_prerelease, semver_level,
 package_types, target_frameworks, dependency_ids, document)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id_lower, version_lower) DO NOTHING
RETURNING key`

	replaceSQL = `UPDATE packages SET
id = $1, version = $3, listed = $5, downloads = $6, is_prerelease = $7, semver_level = $8,
package_types = $9, target_frameworks = $10, dependency_ids = $11, document = $12
WHERE id_lower = $2 AND version_lower = $4
RETURNING key`

	deleteSQL = `DELETE FROM packages WHERE id_lower = $1 AND version_lower = $2`

	pageSQL = `SELECT key, listed, downloads, document FROM packages
ORDER BY key OFFSET $1 LIMIT $2`

	searchRowsSQL = `SELECT key, listed, downloads, document FROM packages
WHERE id_lower = ANY($1::text[])
ORDER BY id_lower COLLATE "C" DESC, key`

	autocompleteSQL = `SELECT (array_agg(id ORDER BY key DESC))[1] FROM packages
WHERE listed AND id_lower LIKE $1 ESCAPE '\'
GROUP BY id_lower
ORDER BY SUM(downloads) DESC, id_lower COLLATE "C"
OFFSET $2 LIMIT $3`

	dependentsSQL = `SELECT (array_agg(id ORDER BY key DESC))[1] FROM packages
WHERE listed AND $1 = ANY(dependency_ids)
GROUP BY id_lower
ORDER BY SUM(downloads) DESC, id_lower COLLATE "C"
OFFSET $2 LIMIT $3`
)

// PostgresStore 每个包一行，过滤字段独立成列，完整记录保存在 JSONB document 中。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore 包装已打开的连接；schema 需先通过 Migrate 建好。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, dbErr(err)
	}
	return count, nil
}

func (s *PostgresStore) Find(ctx context.Context, id string, version versioning.Version, includeUnlisted bool) (*packages.Package, error) {
	row := s.db.QueryRowContext(ctx, findSQL, strings.ToLower(id), strings.ToLower(version.String()))
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, packages.ErrNotFound
	}
	if err != nil {
		return nil, dbErr(err)
	}
	if !includeUnlisted && !pkg.Listed {
		return nil, packages.ErrNotFound
	}
	return pkg, nil
}

func (s *PostgresStore) FindAll(ctx context.Context, id string, includeUnlisted bool) ([]*packages.Package, error) {
	rows, err := s.db.QueryContext(ctx, findAllSQL, strings.ToLower(id))
	if err != nil {
		return nil, dbErr(err)
	}
	all, err := collectPackages(rows)
	if err != nil {
		return nil, err
	}
	if includeUnlisted {
		return all, nil
	}
	listed := all[:0]
	for _, pkg := range all {
		if pkg.Listed {
			listed = append(listed, pkg)
		}
	}
	return listed, nil
}

func (s *PostgresStore) Exists(ctx context.Context, id string, version *versioning.Version) (bool, error) {
	var (
		exists bool
		row    *sql.Row
	)
	if version == nil {
		row = s.db.QueryRowContext(ctx, existsIDSQL, strings.ToLower(id))
	} else {
		row = s.db.QueryRowContext(ctx, existsVersionSQL, strings.ToLower(id), strings.ToLower(version.String()))
	}
	if err := row.Scan(&exists); err != nil {
		return false, dbErr(err)
	}
	return exists, nil
}

func (s *PostgresStore) Insert(ctx context.Context, pkg *packages.Package) error {
	args, err := packageArgs(pkg)
	if err != nil {
		return err
	}
	var key int64
	if err := s.db.QueryRowContext(ctx, insertSQL, args...).Scan(&key); err != nil {
		return dbErr(err)
	}
	pkg.Key = key
	return nil
}

func (s *PostgresStore) InsertMany(ctx context.Context, pkgs []*packages.Package) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx DBTX) error {
		for _, pkg := range pkgs {
			args, err := packageArgs(pkg)
			if err != nil {
				return err
			}
			var key int64
			err = tx.QueryRowContext(ctx, insertIgnoreSQL, args...).Scan(&key)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			pkg.Key = key
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, dbErr(err)
	}
	return inserted, nil
}

func (s *PostgresStore) Replace(ctx context.Context, pkg *packages.Package) error {
	return dbErr(replaceRow(ctx, s.db, pkg))
}

func (s *PostgresStore) ReplaceMany(ctx context.Context, pkgs []*packages.Package) error {
	err := s.withTx(ctx, func(tx DBTX) error {
		for _, pkg := range pkgs {
			if err := replaceRow(ctx, tx, pkg); err != nil && !errors.Is(err, packages.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	return dbErr(err)
}

func (s *PostgresStore) HardDelete(ctx context.Context, id string, version versioning.Version) (bool, error) {
	res, err := s.db.ExecContext(ctx, deleteSQL, strings.ToLower(id), strings.ToLower(version.String()))
	if err != nil {
		return false, dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr(err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Page(ctx context.Context, pageIndex, pageSize int) ([]*packages.Package, error) {
	if pageIndex < 0 || pageSize <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, pageSQL, pageIndex*pageSize, pageSize)
	if err != nil {
		return nil, dbErr(err)
	}
	return collectPackages(rows)
}

func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]*packages.Package, error) {
	skip, take := normalizeWindow(q.Skip, q.Take)
	query, args := buildSearchIDsQuery(q, skip, take)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err = s.db.QueryContext(ctx, searchRowsSQL, ids)
	if err != nil {
		return nil, dbErr(err)
	}
	return collectPackages(rows)
}

// buildSearchIDsQuery 生成第一阶段查询：过滤后按小写 id 去重、降序并分页。
func buildSearchIDsQuery(q SearchQuery, skip, take int) (string, []any) {
	var (
		where = []string{"listed"}
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Query != "" {
		where = append(where, "id_lower LIKE "+next(likePattern(q.Query))+` ESCAPE '\'`)
	}
	if !q.IncludePrerelease {
		where = append(where, "NOT is_prerelease")
	}
	if !q.IncludeSemVer2 {
		where = append(where, fmt.Sprintf("semver_level = %d", int(packages.SemVer1)))
	}
	if q.PackageType != "" {
		where = append(where, next(strings.ToLower(q.PackageType))+" = ANY(package_types)")
	}
	if q.Frameworks != nil {
		where = append(where, "target_frameworks && "+next(lowerAll(q.Frameworks))+"::text[]")
	}

	query := "SELECT id_lower FROM packages WHERE " + strings.Join(where, " AND ") +
		` GROUP BY id_lower ORDER BY id_lower COLLATE "C" DESC OFFSET ` + next(skip) + " LIMIT " + next(take)
	return query, args
}

func (s *PostgresStore) Autocomplete(ctx context.Context, query string, skip, take int) ([]string, error) {
	skip, take = normalizeWindow(skip, take)
	rows, err := s.db.QueryContext(ctx, autocompleteSQL, likePattern(query), skip, take)
	if err != nil {
		return nil, dbErr(err)
	}
	return collectIDs(rows)
}

func (s *PostgresStore) Dependents(ctx context.Context, packageID string, skip, take int) ([]string, error) {
	skip, take = normalizeWindow(skip, take)
	rows, err := s.db.QueryContext(ctx, dependentsSQL, strings.ToLower(packageID), skip, take)
	if err != nil {
		return nil, dbErr(err)
	}
	return collectIDs(rows)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func replaceRow(ctx context.Context, db DBTX, pkg *packages.Package) error {
	args, err := packageArgs(pkg)
	if err != nil {
		return err
	}
	var key int64
	err = db.QueryRowContext(ctx, replaceSQL, args...).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return packages.ErrNotFound
	}
	if err != nil {
		return err
	}
	pkg.Key = key
	return nil
}

// packageArgs 按 insertSQL 的列顺序展开参数。
func packageArgs(pkg *packages.Package) ([]any, error) {
	doc, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("encode package: %w", err)
	}
	types := make([]string, 0, len(pkg.PackageTypes))
	for _, pt := range pkg.PackageTypes {
		types = append(types, strings.ToLower(pt.Name))
	}
	version := pkg.VersionString()
	return []any{
		pkg.ID,
		strings.ToLower(pkg.ID),
		version,
		strings.ToLower(version),
		pkg.Listed,
		pkg.Downloads,
		pkg.IsPrerelease(),
		int(pkg.SemVerLevel()),
		types,
		lowerAll(pkg.TargetFrameworks),
		pkg.DependencyIDs(),
		string(doc),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*packages.Package, error) {
	var (
		key       int64
		listed    bool
		downloads int64
		doc       []byte
	)
	if err := row.Scan(&key, &listed, &downloads, &doc); err != nil {
		return nil, err
	}
	var pkg packages.Package
	if err := json.Unmarshal(doc, &pkg); err != nil {
		return nil, fmt.Errorf("decode package %d: %w", key, err)
	}
	pkg.Key = key
	pkg.Listed = listed
	pkg.Downloads = downloads
	return &pkg, nil
}

func collectPackages(rows *sql.Rows) ([]*packages.Package, error) {
	defer rows.Close()
	var result []*packages.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, dbErr(err)
		}
		result = append(result, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return result, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbErr(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return ids, nil
}

// likePattern 转义通配符后拼成 %query%，匹配小写 id。
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}

// dbErr 将唯一约束冲突映射为 ErrAlreadyExists，其余数据库错误归为 ErrStoreUnavailable。
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, packages.ErrNotFound) || errors.Is(err, packages.ErrAlreadyExists) ||
		errors.Is(err, packages.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return packages.ErrAlreadyExists
	}
	return fmt.Errorf("db error: %w: %w", packages.ErrStoreUnavailable, err)
}

var _ Store = (*PostgresStore)(nil)
