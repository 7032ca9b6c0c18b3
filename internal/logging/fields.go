package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// PackageFields 标识单个包版本，version 为空时只输出 id。
func PackageFields(id, version string) logrus.Fields {
	fields := logrus.Fields{"package_id": id}
	if version != "" {
		fields["package_version"] = version
	}
	return fields
}

// RequestFields 提供请求 ID、方法与路径，供 HTTP 访问日志复用。
func RequestFields(requestID, method, path string) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	}
}
