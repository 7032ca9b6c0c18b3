package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "nuget-hub.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nuget-hub.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "chatty"}); err == nil {
		t.Fatalf("未知日志级别应返回错误")
	}
}

func TestInitLoggerDefaultsToInfo(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("空级别应回退到 info, got %s", logger.GetLevel())
	}
}

func TestPackageFieldsOmitsEmptyVersion(t *testing.T) {
	fields := PackageFields("Newtonsoft.Json", "")
	if _, ok := fields["package_version"]; ok {
		t.Fatalf("空版本不应输出 package_version")
	}
	fields = PackageFields("Newtonsoft.Json", "13.0.3")
	if fields["package_version"] != "13.0.3" || fields["package_id"] != "Newtonsoft.Json" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
