package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/newsdigest/internal/app"
	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: $NEWSDIGEST_CONFIG or the user config dir)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("newsdigest failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if configPath == "" {
		writeDefaultConfig(logger)
	}

	a, err := app.New(cfg, configPath, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(); err != nil {
		return fmt.Errorf("schedule slots: %w", err)
	}
	logger.Info("newsdigest starting", "timezone", cfg.Schedule.Timezone, "slots", len(cfg.Schedule.Slots))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Serve(gctx) })
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := a.ReloadConfig(); err != nil {
					logger.Error("config reload failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("newsdigest stopped")
	return nil
}

// writeDefaultConfig creates the config file on first run so there is
// something to edit.
func writeDefaultConfig(logger *slog.Logger) {
	path, err := config.ConfigPath()
	if err != nil {
		return
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return
	}
	if err := config.Default().Save(path); err != nil {
		logger.Warn("could not save default config", "error", err)
		return
	}
	logger.Info("created default config", "path", path)
}
