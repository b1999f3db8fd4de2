package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/kitmatheinfo/latexfogel/internal/answers"
	"github.com/kitmatheinfo/latexfogel/internal/config"
	"github.com/kitmatheinfo/latexfogel/internal/correlate"
	"github.com/kitmatheinfo/latexfogel/internal/gateway"
	"github.com/kitmatheinfo/latexfogel/internal/gateway/telegram"
	"github.com/kitmatheinfo/latexfogel/internal/interaction"
	"github.com/kitmatheinfo/latexfogel/internal/maintenance"
	"github.com/kitmatheinfo/latexfogel/internal/observability"
	"github.com/kitmatheinfo/latexfogel/internal/ratelimit"
	"github.com/kitmatheinfo/latexfogel/internal/render"
	"github.com/kitmatheinfo/latexfogel/internal/sandbox"
)

var botConfigPath string

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Start the chat bot (default)",
	RunE:  runBot,
}

func init() {
	// Register the flag on both root and bot so that
	// `latexfogel --config path` and `latexfogel bot --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, botCmd} {
		cmd.Flags().StringVar(&botConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	}
}

func runBot(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("LATEXFOGEL_CONFIG", botConfigPath))
	if err != nil {
		return err
	}

	logger.Info("starting latexfogel", slog.String("config", botConfigPath))

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := sandbox.NewDockerRunner(sandbox.Limits{
		PIDs:     cfg.Renderer.PIDsLimit,
		MemoryMB: cfg.Renderer.MemoryMB,
		CPUCores: cfg.Renderer.CPUCores,
	}, logger)

	obs.HealthOrNop().AddCheck("docker", func(ctx context.Context) error {
		return exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}").Run()
	})

	if cfg.Renderer.PullOnStart {
		// Warm the image so the first render doesn't pay for the pull.
		if err := runner.EnsureImage(ctx, cfg.Renderer.Image); err != nil {
			logger.Warn("initial image pull failed",
				slog.String("image", cfg.Renderer.Image),
				slog.String("error", err.Error()),
			)
		}
	}

	renderers := make(map[render.Role]render.Renderer, 2)
	for _, role := range []render.Role{render.RoleLaTeX, render.RoleTypst} {
		renderers[role] = render.NewSupervisor(runner, render.SupervisorConfig{
			Image:    cfg.Renderer.Image,
			Role:     role,
			Deadline: cfg.Renderer.Timeout(),
		}, obs.MetricsOrNil(), obs.TracerOrNil(), logger)
	}

	var ansClient *answers.Client
	if cfg.Answers != nil {
		ansClient = answers.NewClient(cfg.Answers.AppID, obs.MetricsOrNil(), logger)
		ansClient.SetTimeout(cfg.Answers.Timeout())
		if cfg.Answers.BaseURL != "" {
			ansClient.SetBaseURL(cfg.Answers.BaseURL)
		}
	}

	cache := correlate.NewCache()
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.RateLimit.BurstSize,
	})

	maint := maintenance.New(maintenance.Options{
		SweepSchedule:   cfg.Maintenance.SweepSchedule(),
		RefreshSchedule: cfg.Maintenance.RefreshSchedule(),
		TTL:             cfg.Cache.TTL(),
		Images:          []string{cfg.Renderer.Image},
	}, cache, limiter, runner, obs.MetricsOrNil(), logger)
	if err := maint.Start(); err != nil {
		return err
	}
	defer maint.Stop()

	if cfg.Observability != nil {
		admin := observability.NewAdminServer(cfg.Observability.ListenAddr, obs, logger)
		go func() {
			if err := admin.Start(ctx); err != nil {
				logger.Error("admin server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = admin.Stop(shutdownCtx)
		}()
	}

	var gw gateway.Gateway = telegram.NewGateway(telegram.Config{
		BotToken:     cfg.Telegram.BotToken,
		WebhookURL:   cfg.Telegram.WebhookURL,
		ListenAddr:   cfg.Telegram.ListenAddr,
		AllowedUsers: cfg.Telegram.AllowedUsers,
		PollTimeout:  cfg.Telegram.PollTimeout,
	}, renderers, ansClient, cache, interaction.NewGate(), limiter, obs.MetricsOrNil(), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}
