package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/secstack/secbot/cmd/secbot/routes"
	"github.com/secstack/secbot/common/bootstrap"
	"github.com/secstack/secbot/common/db"
	"github.com/secstack/secbot/common/queue"
	"github.com/secstack/secbot/common/repository"
	"github.com/secstack/secbot/secbot"
	"github.com/secstack/secbot/secbot/gitlab"

	// Workflow handlers register themselves on import.
	_ "github.com/secstack/secbot/secbot/gitlab/defectdojo"
	_ "github.com/secstack/secbot/secbot/gitlab/gitleaks"
	_ "github.com/secstack/secbot/secbot/gitlab/slackbot"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "secbot",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return database.ApplySchema(ctx)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap secbot: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	workflow, err := secbot.LoadConfig(components.Config.Secbot.ConfigPath)
	if err != nil {
		components.Logger.Error("failed to load workflow config", "error", err)
		os.Exit(1)
	}

	broker := queue.NewBroker(components.Redis, components.Logger)
	runtime := secbot.NewRuntime(workflow, broker, components.Logger)
	if err := runtime.ValidateWorkflow(); err != nil {
		components.Logger.Error("workflow config is invalid", "error", err)
		os.Exit(1)
	}

	deps := &secbot.Deps{
		Log:           components.Logger,
		Config:        components.Config,
		Checks:        repository.NewCheckRepository(components.DB),
		Scans:         repository.NewScanRepository(components.DB),
		Notifications: repository.NewNotificationRepository(components.DB),
	}
	input, err := gitlab.NewInput(runtime, deps)
	if err != nil {
		components.Logger.Error("failed to build gitlab input", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(200, map[string]string{"status": "ok", "service": "secbot"})
	})

	routes.Register(e, components.Config, input, components.Logger)

	port := components.Config.Service.Port
	components.Logger.Info("Starting secbot", "port", port)
	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
