package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.InitialBackoff.DurationValue() != 500*time.Millisecond {
		t.Fatalf("InitialBackoff 应该自动填充默认值, got %v", cfg.Global.InitialBackoff.DurationValue())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 应解析为 15s")
	}
	if cfg.Global.MaxRetries != 3 {
		t.Fatalf("MaxRetries 默认值应为 3, got %d", cfg.Global.MaxRetries)
	}
	if !cfg.HardDeletes() {
		t.Fatalf("PackageDeletionBehavior 应忽略大小写")
	}
	if cfg.Mirror.PackageDownloadTimeout.DurationValue() != 2*time.Minute {
		t.Fatalf("纯数字秒值应被解析, got %v", cfg.Mirror.PackageDownloadTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Storage.Path) || !filepath.IsAbs(cfg.Database.Path) {
		t.Fatalf("存储路径应转换为绝对路径: %s %s", cfg.Storage.Path, cfg.Database.Path)
	}
	if cfg.Global.AuthMode() != "api-key" {
		t.Fatalf("配置 ApiKey 后应处于 api-key 模式")
	}
}

func TestLoadS3AndPostgres(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "s3.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Database.Type != DatabasePostgres || cfg.Storage.Type != StorageS3 {
		t.Fatalf("unexpected backends: %+v %+v", cfg.Database, cfg.Storage)
	}
	if cfg.Storage.Prefix != "nuget" {
		t.Fatalf("Prefix 应去掉首尾斜杠, got %q", cfg.Storage.Prefix)
	}
	if cfg.Search.Type != SearchNull {
		t.Fatalf("Search.Type 应为 null")
	}
	if cfg.Mirror.PackageSource != DefaultPackageSource {
		t.Fatalf("PackageSource 默认值错误: %s", cfg.Mirror.PackageSource)
	}
	if cfg.Global.PackageDeletionBehavior != DeletionUnlist || cfg.HardDeletes() {
		t.Fatalf("默认删除行为应为 unlist")
	}
	if cfg.Global.AuthMode() != "open" {
		t.Fatalf("未配置 ApiKey 时应处于 open 模式")
	}
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	_, err := Load(testConfigPath(t, "missing.toml"))
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("expected FieldError, got %v", err)
	}
	if fieldErr.Field != "Database.ConnectionString" {
		t.Fatalf("unexpected field: %s", fieldErr.Field)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateEnumFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"bad database", func(c *Config) { c.Database.Type = "sqlite" }, "Database.Type"},
		{"bad storage", func(c *Config) { c.Storage.Type = "azure" }, "Storage.Type"},
		{"bad search", func(c *Config) { c.Search.Type = "lucene" }, "Search.Type"},
		{"bad deletion", func(c *Config) { c.Global.PackageDeletionBehavior = "purge" }, "Global.PackageDeletionBehavior"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = StorageS3; c.Storage.Region = "us-east-1" }, "Storage.Bucket"},
		{"s3 half credentials", func(c *Config) {
			c.Storage = StorageConfig{Type: StorageS3, Bucket: "b", Region: "r", AccessKey: "k"}
		}, "Storage.AccessKey/SecretKey"},
		{"negative retries", func(c *Config) { c.Global.MaxRetries = -1 }, "Global.MaxRetries"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.wantField {
				t.Fatalf("expected field %s, got %s", tc.wantField, fieldErr.Field)
			}
		})
	}
}

func TestValidateMirrorSource(t *testing.T) {
	cfg := validConfig()
	cfg.Mirror.Enabled = true
	cfg.Mirror.PackageSource = "ftp://mirror.local/index.json"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http(s) 镜像源应报错")
	}

	cfg.Mirror.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("未启用镜像时不应校验 PackageSource: %v", err)
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:              5000,
			MaxRetries:              1,
			InitialBackoff:          Duration(time.Second),
			UpstreamTimeout:         Duration(time.Second),
			PackageDeletionBehavior: DeletionUnlist,
		},
		Database: DatabaseConfig{Type: DatabaseBolt, Path: "./data/nuget-hub.db"},
		Storage:  StorageConfig{Type: StorageFilesystem, Path: "./data"},
		Mirror: MirrorConfig{
			PackageSource:          DefaultPackageSource,
			PackageDownloadTimeout: Duration(time.Minute),
		},
		Search: SearchConfig{Type: SearchDatabase},
	}
}
