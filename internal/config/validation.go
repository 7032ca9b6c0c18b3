package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	switch g.PackageDeletionBehavior {
	case DeletionUnlist, DeletionHardDelete:
	default:
		return newFieldError("Global.PackageDeletionBehavior", "仅支持 unlist/hard-delete")
	}

	switch c.Database.Type {
	case DatabaseBolt:
		if c.Database.Path == "" {
			return newFieldError(sectionField("Database", "Path"), "不能为空")
		}
	case DatabasePostgres:
		if strings.TrimSpace(c.Database.ConnectionString) == "" {
			return newFieldError(sectionField("Database", "ConnectionString"), "postgres 需要连接串")
		}
	default:
		return newFieldError(sectionField("Database", "Type"), "仅支持 bolt/postgres")
	}

	switch c.Storage.Type {
	case StorageFilesystem:
		if c.Storage.Path == "" {
			return newFieldError(sectionField("Storage", "Path"), "不能为空")
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			return newFieldError(sectionField("Storage", "Bucket"), "s3 需要 Bucket")
		}
		if c.Storage.Region == "" {
			return newFieldError(sectionField("Storage", "Region"), "s3 需要 Region")
		}
		if (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
			return newFieldError(sectionField("Storage", "AccessKey/SecretKey"), "必须同时提供或同时留空")
		}
		if c.Storage.Endpoint != "" {
			if err := validateURL(c.Storage.Endpoint); err != nil {
				return fmt.Errorf("%s: %w", sectionField("Storage", "Endpoint"), err)
			}
		}
	case StorageNull:
	default:
		return newFieldError(sectionField("Storage", "Type"), "仅支持 filesystem/s3/null")
	}

	if c.Mirror.Enabled {
		if err := validateURL(c.Mirror.PackageSource); err != nil {
			return fmt.Errorf("%s: %w", sectionField("Mirror", "PackageSource"), err)
		}
	}
	if c.Mirror.PackageDownloadTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Mirror", "PackageDownloadTimeout"), "必须大于 0")
	}

	switch c.Search.Type {
	case SearchDatabase, SearchNull:
	default:
		return newFieldError(sectionField("Search", "Type"), "仅支持 database/null")
	}

	if src := c.Downloads.Source; strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if err := validateURL(src); err != nil {
			return fmt.Errorf("%s: %w", sectionField("Downloads", "Source"), err)
		}
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
