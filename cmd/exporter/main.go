// The exporter drives one full export session against the appliance and
// exits non-zero on any failure. It is designed to run from cron; retries
// are cron's business, not ours.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nacexportpro/nacexportpro/internal/config"
	"github.com/nacexportpro/nacexportpro/internal/database"
	"github.com/nacexportpro/nacexportpro/internal/service"
	"github.com/nacexportpro/nacexportpro/pkg/logger"
)

func main() {
	var configPath string
	var env string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&env, "env", "", "environment name, selects configs/config.<env>.yaml")
	flag.Parse()

	if configPath == "" {
		if env != "" {
			configPath = fmt.Sprintf("configs/config.%s.yaml", env)
		} else {
			configPath = "configs/config.yaml"
		}
	}

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

	envLabel := env
	if envLabel == "" {
		envLabel = "default"
	}
	logger.Infof("NAC Export Pro starting (environment: %s, config: %s)", envLabel, configPath)

	// Run history is optional for the exporter; a broken database must
	// not block the export itself.
	if cfg.Database.SQLite.Path != "" {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.Warnf("run history disabled: %v", err)
		} else {
			defer database.Close()
		}
	}

	svc := service.NewExportService(cfg, env)
	report, err := svc.Run(context.Background())
	if err != nil {
		logFailure(err)
		os.Exit(1)
	}

	logger.Infof("export completed in %s, published %s", report.Duration.Round(time.Millisecond), report.ObjectURI)
}

func logFailure(err error) {
	var connErr *service.ConnectionError
	var stepErr *service.StepTimeoutError
	var nfErr *service.FileNotFoundError
	var upErr *service.UploadError

	switch {
	case errors.As(err, &connErr):
		logger.Errorf("export aborted, could not reach the appliance: %v", err)
	case errors.As(err, &stepErr):
		logger.Errorf("export aborted at step %d (%s); commands already sent may have taken effect on the appliance", stepErr.Index, stepErr.Name)
	case errors.As(err, &nfErr):
		logger.Errorf("export script finished but the report never appeared on the share: %v", err)
	case errors.As(err, &upErr):
		logger.Errorf("export failed during publish: %v", err)
	default:
		logger.Errorf("export failed: %v", err)
	}
}
