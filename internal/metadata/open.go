package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/packages"
)

// Open 是选择存储后端的唯一入口，业务代码只依赖 Store 接口。
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case config.DatabaseBolt, "":
		return NewBoltStore(cfg.Path)
	case config.DatabasePostgres:
		return openPostgres(ctx, cfg.ConnectionString)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func openPostgres(ctx context.Context, dsn string) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", packages.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", packages.ErrStoreUnavailable, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewPostgresStore(db), nil
}
