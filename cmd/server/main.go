// The server exposes the recorded run history over HTTP so operators can
// check cron outcomes without shell access to the export host.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nacexportpro/nacexportpro/api/router"
	"github.com/nacexportpro/nacexportpro/internal/config"
	"github.com/nacexportpro/nacexportpro/internal/database"
	"github.com/nacexportpro/nacexportpro/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("NAC Export Pro history server starting")

	// The history server exists to serve the database; unlike the
	// exporter it cannot run without one.
	if cfg.Database.SQLite.Path == "" {
		logger.Fatal("database.sqlite.path is required for the history server")
	}
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	defer database.Close()

	r := router.SetupRouter(cfg.Server.Mode)

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Infof("server listening on %s (mode: %s)", cfg.GetServerAddr(), cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("failed to start server: %v", err)
		}
	}()

	// Config hot reload: only the log level is applied at runtime; the
	// rest requires a restart.
	go watchConfig(configPath)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("server shutdown failed: %v", err)
	}
}

func watchConfig(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("config watch init failed: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Warnf("config watch add failed: %v", err)
		return
	}

	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					cfg, err := config.Load(path)
					if err != nil {
						logger.Warnf("config reload failed: %v", err)
						return
					}
					logger.SetLevel(cfg.Log.Level)
					logger.Infof("config reloaded, log level now %s", cfg.Log.Level)
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watch error: %v", err)
		}
	}
}
