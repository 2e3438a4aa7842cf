package main

import (
	"chatbridge/pkg/adapter"
	"chatbridge/pkg/config"
	"chatbridge/pkg/eventbus"
	"chatbridge/pkg/monitor"
	"chatbridge/pkg/platform/telegram"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	// Create context listening for system signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initial configuration load to get log level before loop.
	// This acts as a fallback or initial console setup.
	_, sysCfg, err := config.Load()
	if err == nil {
		monitor.SetupEnvironment(sysCfg.LogLevel)
	}

	reloadCh := config.WatchConfig(ctx, "adapter.json", "system.json")

	for {
		err := runAdapter(ctx, reloadCh)

		// Connection lost beyond max_reconnect_attempts is fatal: terminate.
		var fatalErr *eventbus.FatalError
		if errors.As(err, &fatalErr) {
			slog.Error("platform connection lost, terminating", "error", err)
			os.Exit(1)
		}

		if err != nil {
			slog.Error("adapter crashed or failed to load config", "error", err)
			slog.Info("waiting 5 seconds before retrying...")
			// Wait for 5 seconds, or for a file change, or user interrupt
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("configuration change detected while waiting, retrying immediately...")
			case <-time.After(5 * time.Second):
			}
		} else {
			// Normal exit from runAdapter (either manual exit or config reloaded)
			select {
			case <-ctx.Done():
				return // user requested exit
			default:
				slog.Info("==== configuration reloaded ====")
			}
		}
	}
}

// runAdapter executes a single lifecycle of the bridge: load config,
// build the Adapter, run it until shutdown, reload, or a fatal
// connection failure.
func runAdapter(ctx context.Context, reloadCh <-chan struct{}) error {
	cfg, sysCfg, err := config.Load()
	if err != nil {
		monitor.PrintBanner()
		monitor.SetupSlog("info")
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	monitor.SetupEnvironment(sysCfg.LogLevel)
	slog.Info("==========================================")
	slog.Info("starting adapter", "adapter_type", cfg.AdapterType)

	a, err := adapter.New(cfg, sysCfg, telegram.EventHandlers())
	if err != nil {
		return fmt.Errorf("failed to build adapter: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if err := a.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start adapter: %w", err)
	}

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal, stopping adapter...")
		a.Stop(context.Background())
		slog.Info("bye!")
		return nil
	case <-reloadCh:
		slog.Info("configuration change detected, stopping adapter...")
		a.Stop(context.Background())
		slog.Info("draining connections before restart...")
		time.Sleep(1 * time.Second)
		return nil
	case err := <-a.Fatal():
		slog.Error("adapter connection monitor failed fatally, stopping adapter", "error", err)
		a.Stop(context.Background())
		return err
	}
}
