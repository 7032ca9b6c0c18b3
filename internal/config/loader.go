package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPackageSource 是 nuget.org 的服务索引。
const DefaultPackageSource = "https://api.nuget.org/v3/index.json"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == StorageFilesystem {
		abs, err := filepath.Abs(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析存储目录: %w", err)
		}
		cfg.Storage.Path = abs
	}
	if cfg.Database.Type == DatabaseBolt {
		abs, err := filepath.Abs(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析数据库路径: %w", err)
		}
		cfg.Database.Path = abs
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("PackageDeletionBehavior", DeletionUnlist)
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "500ms")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Database.Type", DatabaseBolt)
	v.SetDefault("Database.Path", "./storage/nuget-hub.db")
	v.SetDefault("Storage.Type", StorageFilesystem)
	v.SetDefault("Storage.Path", "./storage")
	v.SetDefault("Mirror.Enabled", false)
	v.SetDefault("Mirror.PackageSource", DefaultPackageSource)
	v.SetDefault("Mirror.PackageDownloadTimeout", "10m")
	v.SetDefault("Search.Type", SearchDatabase)
}

// applyDefaults 处理显式写成空值的字段，并统一枚举值大小写。
func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(500 * time.Millisecond)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.PackageDeletionBehavior = normalizeEnum(g.PackageDeletionBehavior, DeletionUnlist)

	cfg.Database.Type = normalizeEnum(cfg.Database.Type, DatabaseBolt)
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./storage/nuget-hub.db"
	}
	cfg.Storage.Type = normalizeEnum(cfg.Storage.Type, StorageFilesystem)
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./storage"
	}
	cfg.Storage.Prefix = strings.Trim(cfg.Storage.Prefix, "/")
	if cfg.Mirror.PackageSource == "" {
		cfg.Mirror.PackageSource = DefaultPackageSource
	}
	if cfg.Mirror.PackageDownloadTimeout.DurationValue() == 0 {
		cfg.Mirror.PackageDownloadTimeout = Duration(10 * time.Minute)
	}
	cfg.Search.Type = normalizeEnum(cfg.Search.Type, SearchDatabase)
	cfg.Downloads.Source = strings.TrimSpace(cfg.Downloads.Source)
}

func normalizeEnum(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
