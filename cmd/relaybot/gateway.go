package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaybot/relaybot/pkg/agent"
	"github.com/relaybot/relaybot/pkg/bus"
	"github.com/relaybot/relaybot/pkg/channels"
	"github.com/relaybot/relaybot/pkg/config"
	"github.com/relaybot/relaybot/pkg/contacts"
	"github.com/relaybot/relaybot/pkg/cron"
	"github.com/relaybot/relaybot/pkg/dashboard"
	"github.com/relaybot/relaybot/pkg/export"
	"github.com/relaybot/relaybot/pkg/logger"
	"github.com/relaybot/relaybot/pkg/providers"
	"github.com/relaybot/relaybot/pkg/storage"
)

func runGateway(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorage(storageConfigFrom(cfg, cfg.Storage.Type))
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect storage: %w", err)
	}
	defer store.Close()

	records := contacts.NewStore(store.Records())
	if err := records.Load(ctx); err != nil {
		logger.FatalCF("gateway", "Failed to load contact records", map[string]interface{}{
			"storage": cfg.Storage.Type,
			"error":   err.Error(),
		})
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	gateway := providers.NewGateway(providers.NewDynamicProvider(cfg), cfg.InferenceSnapshot().Fallback)
	loop, err := agent.NewAgentLoop(cfg, msgBus, records, gateway)
	if err != nil {
		return err
	}

	if cfg.Export.Enabled {
		writer, err := export.NewCSVWriter(cfg.ResolvePath(cfg.Export.CSVPath))
		if err != nil {
			return fmt.Errorf("failed to prepare CSV export: %w", err)
		}
		loop.SetExporter(writer)
		logger.InfoCF("gateway", "CSV export enabled", map[string]interface{}{
			"path": writer.Path(),
		})
	}

	manager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return err
	}

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		token, generated, err := cfg.EnsureDashboardToken()
		if err != nil {
			return fmt.Errorf("failed to create dashboard token: %w", err)
		}
		if generated {
			if err := config.StoreDashboardToken(token); err != nil {
				logger.WarnCF("gateway", "Could not store dashboard token in keyring", map[string]interface{}{
					"error": err.Error(),
				})
			}
			fmt.Printf("Dashboard token: %s\n", token)
		}
		dash = dashboard.NewServer(cfg, configPath, manager, records, msgBus,
			dashboard.AgentInfo{Strategy: loop.Strategy(), Namespace: loop.Namespace()}, version)
		if err := dash.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if expr := cfg.Storage.BackupSchedule; expr != "" {
		scheduler, err := cron.NewBackupScheduler(expr, cfg.ResolvePath(cfg.Storage.BackupDir),
			cfg.RecordNamespace(), cfg.Storage.BackupKeep, records)
		if err != nil {
			return err
		}
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	}

	if err := manager.StartAll(ctx); err != nil {
		return err
	}

	g.Go(func() error {
		return loop.Run(gctx)
	})

	logger.InfoCF("gateway", "Gateway running", map[string]interface{}{
		"strategy":  loop.Strategy(),
		"namespace": loop.Namespace(),
		"contacts":  records.Count(),
		"channels":  manager.Names(),
	})

	<-ctx.Done()
	logger.InfoC("gateway", "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	loop.Stop()
	if err := g.Wait(); err != nil {
		logger.ErrorCF("gateway", "Worker exited with error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	manager.StopAll(shutdownCtx)
	if dash != nil {
		dash.Stop()
	}
	return nil
}
