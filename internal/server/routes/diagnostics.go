package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/version"
)

type backendsPayload struct {
	Version        string        `json:"version"`
	Database       string        `json:"database"`
	Storage        string        `json:"storage"`
	Search         string        `json:"search"`
	Mirror         mirrorPayload `json:"mirror"`
	DeletionPolicy string        `json:"deletion_behavior"`
	AuthMode       string        `json:"auth_mode"`
}

type mirrorPayload struct {
	Enabled       bool   `json:"enabled"`
	PackageSource string `json:"package_source,omitempty"`
}

// RegisterDiagnosticsRoutes 暴露 /-/backends，供运维确认进程实际选用的后端。
func RegisterDiagnosticsRoutes(app *fiber.App, cfg *config.Config) {
	if app == nil || cfg == nil {
		return
	}
	payload := backendsPayload{
		Version:        version.Full(),
		Database:       cfg.Database.Type,
		Storage:        cfg.Storage.Type,
		Search:         cfg.Search.Type,
		Mirror:         mirrorPayload{Enabled: cfg.Mirror.Enabled},
		DeletionPolicy: cfg.Global.PackageDeletionBehavior,
		AuthMode:       cfg.Global.AuthMode(),
	}
	if cfg.Mirror.Enabled {
		payload.Mirror.PackageSource = cfg.Mirror.PackageSource
	}

	app.Get("/-/backends", func(c fiber.Ctx) error {
		return c.JSON(payload)
	})
}
