package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/a-saketh/pr-notifier/internal/card"
	"github.com/a-saketh/pr-notifier/internal/commenter"
	"github.com/a-saketh/pr-notifier/internal/config"
	"github.com/a-saketh/pr-notifier/internal/ghapp"
	"github.com/a-saketh/pr-notifier/internal/notify"
	"github.com/a-saketh/pr-notifier/internal/policy"
	"github.com/a-saketh/pr-notifier/internal/projects"
	"github.com/a-saketh/pr-notifier/internal/router"
	"github.com/a-saketh/pr-notifier/internal/server"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"

	shutdownTimeout = 10 * time.Second
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	log := setupLogger(cfg.Env, verbose)
	log.Info("starting prnotifier",
		slog.String("env", cfg.Env),
		slog.String("project_strategy", cfg.ProjectStrategy),
		slog.Any("repo_prefixes", cfg.RepoPrefixes),
	)

	key, err := cfg.PrivateKey()
	if err != nil {
		return err
	}
	app, err := ghapp.New(cfg.AppID, key, ghapp.Options{
		Host:    cfg.GitHubHost,
		Timeout: cfg.HTTPTimeout,
	})
	if err != nil {
		return err
	}

	resolver, err := newResolver(cfg, app, log)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	channels := []notify.Channel{notify.NewTeams(cfg.TeamsWebhookURL, cfg.HTTPTimeout)}
	if cfg.AMQPURL != "" {
		mq, err := notify.NewRabbitMQ(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer mq.Close()
		channels = append(channels, mq)
		log.Info("mirroring notifications to rabbitmq", slog.String("queue", cfg.AMQPQueue))
	}

	events := router.New(cfg, router.Deps{
		Installations: app,
		Resolver:      resolver,
		Policy:        policy.New(policy.DefaultMessages),
		Commenter:     commenter.New(app.REST, log),
		Builder:       card.NewBuilder(loc, cfg.ProjectPlaceholder),
		Notifier:      notify.NewDispatcher(log, channels...),
	}, log)

	webhooks := server.New(log, cfg.WebhookSecret, cfg.WebhookPath, events)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           webhooks,
		ReadHeaderTimeout: cfg.HTTPTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", slog.String("address", srv.Addr), slog.String("webhook_path", cfg.WebhookPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := webhooks.Wait(shutdownCtx); err != nil {
		return err
	}
	log.Info("server exited gracefully")
	return nil
}

// newResolver wires the project lookup to the GraphQL client its strategy
// authenticates with.
func newResolver(cfg *config.Config, app *ghapp.App, log *slog.Logger) (projects.Resolver, error) {
	var source projects.QuerierSource = func(ctx context.Context, installationID int64) (projects.Querier, error) {
		if installationID == 0 {
			return nil, ghapp.ErrNoInstallation
		}
		client, err := app.GraphQL(ctx, installationID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	if cfg.ProjectStrategy == config.StrategyIssueAlias {
		client, err := app.GraphQLWithToken(cfg.PersonalToken)
		if err != nil {
			return nil, err
		}
		source = projects.Static(client)
	}
	resolver, err := projects.New(cfg.ProjectStrategy, source, log)
	if err != nil {
		return nil, err
	}
	log.Info("project resolver ready", slog.String("strategy", resolver.Strategy()))
	return resolver, nil
}

func setupLogger(env string, verbose bool) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	default:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
		log.Warn("unknown ENV, using text logs", slog.String("env", env))
	}

	return log
}
