package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 元数据库类型。
const (
	DatabaseBolt     = "bolt"
	DatabasePostgres = "postgres"
)

// 包内容存储类型。
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
	StorageNull       = "null"
)

// 搜索实现类型。
const (
	SearchDatabase = "database"
	SearchNull     = "null"
)

// 删除接口的行为：下架或物理删除。
const (
	DeletionUnlist     = "unlist"
	DeletionHardDelete = "hard-delete"
)

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort              int      `mapstructure:"ListenPort"`
	LogLevel                string   `mapstructure:"LogLevel"`
	LogFilePath             string   `mapstructure:"LogFilePath"`
	LogMaxSize              int      `mapstructure:"LogMaxSize"`
	LogMaxBackups           int      `mapstructure:"LogMaxBackups"`
	LogCompress             bool     `mapstructure:"LogCompress"`
	ApiKey                  string   `mapstructure:"ApiKey"`
	PackageDeletionBehavior string   `mapstructure:"PackageDeletionBehavior"`
	MaxRetries              int      `mapstructure:"MaxRetries"`
	InitialBackoff          Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout         Duration `mapstructure:"UpstreamTimeout"`
}

// DatabaseConfig 选择元数据存储后端。
type DatabaseConfig struct {
	Type             string `mapstructure:"Type"`
	Path             string `mapstructure:"Path"`
	ConnectionString string `mapstructure:"ConnectionString"`
}

// StorageConfig 选择 .nupkg 内容存储后端。
type StorageConfig struct {
	Type      string `mapstructure:"Type"`
	Path      string `mapstructure:"Path"`
	Bucket    string `mapstructure:"Bucket"`
	Prefix    string `mapstructure:"Prefix"`
	Region    string `mapstructure:"Region"`
	Endpoint  string `mapstructure:"Endpoint"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
}

// MirrorConfig 控制是否从上游 NuGet 源按需镜像。
type MirrorConfig struct {
	Enabled                bool     `mapstructure:"Enabled"`
	PackageSource          string   `mapstructure:"PackageSource"`
	PackageDownloadTimeout Duration `mapstructure:"PackageDownloadTimeout"`
}

// SearchConfig 选择搜索实现。
type SearchConfig struct {
	Type string `mapstructure:"Type"`
}

// DownloadsConfig 指定下载量快照的来源（文件路径或 http(s) URL）。
type DownloadsConfig struct {
	Source string `mapstructure:"Source"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:"Database"`
	Storage   StorageConfig   `mapstructure:"Storage"`
	Mirror    MirrorConfig    `mapstructure:"Mirror"`
	Search    SearchConfig    `mapstructure:"Search"`
	Downloads DownloadsConfig `mapstructure:"Downloads"`
}

// HardDeletes 表示删除接口是否直接移除元数据与内容。
func (c *Config) HardDeletes() bool {
	return c.Global.PackageDeletionBehavior == DeletionHardDelete
}

// AuthMode 输出 `api-key` 或 `open`，供日志字段使用。
func (g GlobalConfig) AuthMode() string {
	if g.ApiKey != "" {
		return "api-key"
	}
	return "open"
}
