package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/hookbot/internal/commands"
	"github.com/danielolaszy/hookbot/internal/config"
	"github.com/danielolaszy/hookbot/internal/dispatch"
	"github.com/danielolaszy/hookbot/internal/github"
	"github.com/danielolaszy/hookbot/internal/gitlab"
	"github.com/danielolaszy/hookbot/internal/gitsync"
	"github.com/danielolaszy/hookbot/internal/logging"
	"github.com/danielolaszy/hookbot/internal/mapping"
	"github.com/danielolaszy/hookbot/internal/trace"
	"github.com/danielolaszy/hookbot/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the webhook server.

The server accepts GitHub deliveries on POST /github and GitLab deliveries on
POST /gitlab, and answers GET /health. Work triggered by a delivery runs in
the background after the delivery has been acknowledged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	mapper, err := mapping.New(cfg.Mappings)
	if err != nil {
		return fmt.Errorf("invalid mappings: %w", err)
	}

	githubClient, err := github.NewClient(ctx, cfg.GitHub)
	if err != nil {
		return fmt.Errorf("failed to initialize GitHub client: %w", err)
	}
	if _, err := githubClient.Authenticate(ctx); err != nil {
		return err
	}
	gitlabClient, err := gitlab.NewClient(cfg.GitLab, &http.Client{Timeout: time.Minute})
	if err != nil {
		return fmt.Errorf("failed to initialize GitLab client: %w", err)
	}

	mirror, err := gitsync.NewGitMirror(cfg.Mirror.Dir, cfg.GitHub.Token, cfg.GitLab.URL, cfg.GitLab.Token)
	if err != nil {
		return err
	}
	if err := mirror.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize mirror repository: %w", err)
	}

	// Background work outlives the request that triggered it but not the process.
	runner := dispatch.NewRunner(context.WithoutCancel(ctx), cfg.Server.MaxConcurrentTasks, cfg.Server.MaxQueuedTasks)
	engine := dispatch.NewEngine(dispatch.Deps{
		Config: cfg,
		Mapper: mapper,
		Source: githubClient,
		CI:     gitlabClient,
		Syncer: gitsync.NewOrchestrator(mirror, githubClient, cfg.Bot.RebaseLabel),
		Jobs: trace.NewTriage(
			gitlabClient,
			githubClient,
			trace.NewClassifier(cfg.Trace.IgnoreMissingImageProject),
			trace.NewPoller(cfg.Trace.InitialWait, cfg.Trace.MaxAttempts),
			cfg,
		),
		Parser: commands.NewParser(cfg.Bot.Name),
		Runner: runner,
	})

	server := webhook.NewServer(webhook.Options{
		GitHubSecret:     cfg.GitHub.WebhookSecret,
		GitLabSecret:     cfg.GitLab.WebhookSecret,
		RequireSignature: cfg.Server.RequireSignature,
	}, engine)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("webhook server listening",
			"port", cfg.Server.Port,
			"mappings", mapper.Len(),
			"require_signature", cfg.Server.RequireSignature,
			"max_concurrent_tasks", cfg.Server.MaxConcurrentTasks,
			"max_queued_tasks", cfg.Server.MaxQueuedTasks)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("webhook server shutdown failed", "error", err)
	}
	runner.Wait()
	logging.Info("all background tasks finished")
	return nil
}
