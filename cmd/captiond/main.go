package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/gPlorovg/sayo-captions/external/audio"
	configloader "github.com/gPlorovg/sayo-captions/external/config"
	"github.com/gPlorovg/sayo-captions/external/discord"
	repositoryimpl "github.com/gPlorovg/sayo-captions/external/repository"
	transcriberimpl "github.com/gPlorovg/sayo-captions/external/transcriber"
	webhookimpl "github.com/gPlorovg/sayo-captions/external/webhook"
	"github.com/gPlorovg/sayo-captions/internal/audio"
	"github.com/gPlorovg/sayo-captions/internal/config"
	discordpkg "github.com/gPlorovg/sayo-captions/internal/discord"
	"github.com/gPlorovg/sayo-captions/internal/metrics"
	"github.com/gPlorovg/sayo-captions/internal/repository"
	"github.com/gPlorovg/sayo-captions/internal/server"
	"github.com/gPlorovg/sayo-captions/internal/session"
	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"
)

const (
	discordConnectTimeout = 20 * time.Second
	recoverTimeout        = 10 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "backend", cfg.TranscribeBackend)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	if err := run(cfg, injector); err != nil {
		slog.Error("caption service stopped with error", "error", err)
		os.Exit(1)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, metrics.New())
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func run(cfg *config.Config, injector do.Injector) error {
	m := do.MustInvoke[*metrics.Metrics](injector)
	defer closeRepository(injector)
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Error("session manager close failed", "error", err)
		}
	}()
	source, err := do.Invoke[audio.Source](injector)
	if err != nil {
		return err
	}

	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), recoverTimeout)
	if err := manager.RecoverOrphans(recoverCtx); err != nil {
		slog.Error("failed to recover orphan sessions", "error", err)
	}
	cancelRecover()

	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		return err
	}
	if dc.Enabled() {
		if err := startDiscord(cfg, dc, manager); err != nil {
			return err
		}
		defer func() {
			if err := dc.Close(); err != nil {
				slog.Error("discord close failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(manager, m.Registry, server.Checker{Name: "repository", Check: manager.Ping})
	source.Subscribe(manager.HandleAudio)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.HTTPAddress)
	})
	g.Go(func() error {
		return source.Run(gctx)
	})
	g.Go(func() error {
		tickLoop(gctx, manager, cfg.TickInterval)
		return nil
	})

	slog.Info("startup: caption service running", "audio_source", source.Name(), "http_address", cfg.HTTPAddress)
	manager.Connect()

	err = g.Wait()
	slog.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startDiscord(cfg *config.Config, dc discordpkg.Client, manager *session.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		return err
	}
	if err := dc.UpsertGuildSlashCommands(cfg.DiscordGuildID, session.SlashCommandDefinitions()); err != nil {
		slog.Error("failed to upsert slash commands", "error", err, "guild_id", cfg.DiscordGuildID)
		return err
	}
	dc.RegisterSlashCommandHandler(manager.HandleSlashCommand)
	slog.Info("discord handlers registered",
		"guild_id", cfg.DiscordGuildID,
		"caption_channel", dc.ResolveChannelName(cfg.DiscordCaptionChannelID))
	return nil
}

func closeRepository(injector do.Injector) {
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		return
	}
	if c, ok := repo.(interface{ Close() }); ok {
		c.Close()
	}
}

func tickLoop(ctx context.Context, manager *session.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.Tick()
		}
	}
}
