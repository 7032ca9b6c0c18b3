package metadata

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseUpContext 允许测试替换真实的迁移执行。
var gooseUpContext = goose.UpContext

// Migrate 使用内嵌的 goose 迁移脚本升级 postgres schema。
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, "migrations")
}
