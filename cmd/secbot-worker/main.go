package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/secstack/secbot/common/bootstrap"
	"github.com/secstack/secbot/common/db"
	"github.com/secstack/secbot/common/queue"
	"github.com/secstack/secbot/common/repository"
	"github.com/secstack/secbot/common/server"
	"github.com/secstack/secbot/secbot"
	"github.com/secstack/secbot/secbot/gitlab"

	// Workflow handlers register themselves on import.
	_ "github.com/secstack/secbot/secbot/gitlab/defectdojo"
	_ "github.com/secstack/secbot/secbot/gitlab/gitleaks"
	_ "github.com/secstack/secbot/secbot/gitlab/slackbot"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, err := bootstrap.Setup(ctx, "secbot-worker",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return database.ApplySchema(ctx)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap secbot-worker: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	workflow, err := secbot.LoadConfig(components.Config.Secbot.ConfigPath)
	if err != nil {
		components.Logger.Error("failed to load workflow config", "error", err)
		os.Exit(1)
	}

	// Scans clone over https; git reads the tokens from ~/.git-credentials.
	if err := gitlab.WriteGitCredentials(components.Config.Gitlab.Instances); err != nil {
		components.Logger.Error("failed to write git credentials", "error", err)
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

	worker := queue.NewWorker(components.Redis, broker, components.Logger)
	if err := secbot.BindTasks(worker, gitlab.InputName, deps); err != nil {
		components.Logger.Error("failed to bind tasks", "error", err)
		os.Exit(1)
	}

	// Health endpoint for liveness probes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler(components.Health))
	health := server.New("secbot-worker health", components.Config.Service.Port, mux, components.Logger)
	go func() {
		if err := health.Start(ctx); err != nil {
			components.Logger.Error("health server error", "error", err)
		}
	}()

	if err := worker.Start(ctx); err != nil {
		components.Logger.Error("worker error", "error", err)
		os.Exit(1)
	}
}
