// Command controlplane runs the FaaS control plane: the Request API and the
// background lifecycle reconciler, backed by either an in-memory store or
// Postgres.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fnplane/controlplane/internal/app"
	"github.com/fnplane/controlplane/internal/config"
	"github.com/fnplane/controlplane/internal/platform/database"
	"github.com/fnplane/controlplane/internal/platform/migrations"
	"github.com/fnplane/controlplane/internal/provisioner"
	"github.com/fnplane/controlplane/internal/provisioner/dev"
	"github.com/fnplane/controlplane/internal/provisioner/external"
	"github.com/fnplane/controlplane/internal/store"
	"github.com/fnplane/controlplane/internal/store/memory"
	"github.com/fnplane/controlplane/internal/store/postgres"
	"github.com/fnplane/controlplane/pkg/logger"
	"github.com/fnplane/controlplane/pkg/version"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	apiToken := flag.String("api-token", "", "bearer token required of Request API callers (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		cfg.Server.Addr = trimmed
	}
	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		cfg.Database.DSN = trimmed
	}
	if trimmed := strings.TrimSpace(*apiToken); trimmed != "" {
		cfg.Auth.Token = trimmed
	}

	appLog := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	appLog.Infof("starting controlplane %s", version.FullVersion())

	rootCtx := context.Background()

	var (
		s  store.Store
		db *sql.DB
	)
	if dsnVal := strings.TrimSpace(cfg.Database.DSN); dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			appLog.WithError(err).Fatal("connect to postgres")
		}
		configurePool(db, cfg)
		if *runMigrations && cfg.Database.MigrateOnStart {
			if err := migrations.Apply(rootCtx, db); err != nil {
				appLog.WithError(err).Fatal("apply migrations")
			}
		}
		s = postgres.New(db)
		defer db.Close()
	} else {
		appLog.Warn("no database DSN configured; using in-memory store")
		s = memory.New()
	}

	provisionerImpl, err := buildProvisioner(cfg, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("configure provisioner")
	}

	application, err := app.New(app.Config{
		Store:             s,
		Provisioner:       provisionerImpl,
		ReconcileInterval: cfg.Reconciler.TickInterval,
		APIToken:          cfg.Auth.Token,
	}, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("initialize application")
	}

	httpService := app.NewHTTPServer(cfg.Server.Addr, application.Handler, appLog)
	if err := application.Attach(httpService); err != nil {
		appLog.WithError(err).Fatal("attach http service")
	}

	if err := application.Start(rootCtx); err != nil {
		appLog.WithError(err).Fatal("start application")
	}
	appLog.Infof("control plane listening on %s", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		appLog.WithError(err).Fatal("shutdown")
	}
}

func buildProvisioner(cfg *config.Config, log *logger.Logger) (provisioner.Provisioner, error) {
	switch cfg.Provisioner.Kind {
	case "external":
		return external.New(external.Config{
			BaseURL: cfg.Provisioner.ExternalBaseURL,
			Token:   cfg.Provisioner.ExternalToken,
			Timeout: cfg.Provisioner.ExternalTimeout,
			Logger:  log,
		})
	default:
		return dev.New(cfg.Provisioner.DevLagCycles, cfg.Provisioner.DevFailureRate), nil
	}
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}
