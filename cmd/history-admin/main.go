package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ledgerline/histories"
	"github.com/ledgerline/histories/admin"
	"github.com/ledgerline/histories/internal/config"
	"github.com/ledgerline/histories/internal/logger"
	"github.com/ledgerline/histories/notify"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	config.ChdirRepoRoot()
	cfg, err := config.LoadAdminConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "history-admin",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting history admin service")

	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("dbname", cfg.Database.DBName),
	)

	var opts []histories.Option
	var notifier histories.Notifier
	if cfg.NATS.URL != "" {
		notifier, err = notify.NewNATS(notify.Config{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			ConnectionName: cfg.NATS.ConnectionName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
		})
		if err != nil {
			logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err))
		}
		defer notifier.Close()
		opts = append(opts, histories.WithNotifier(notifier))
		logger.InfoCtx(ctx, "Change notification enabled", zap.String("url", cfg.NATS.URL))
	}

	plugin := histories.New(opts...)
	if err := db.Use(plugin); err != nil {
		logger.FatalCtx(ctx, "Failed to install histories plugin", zap.Error(err))
	}
	if err := setupDomain(db, plugin); err != nil {
		logger.FatalCtx(ctx, "Failed to set up audited models", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Audited tables registered",
		zap.Strings("tables", plugin.Registry().Tables()),
	)

	srv := admin.New(admin.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth: admin.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
	}, plugin, db)

	go func() {
		if err := srv.Start(); err != nil {
			logger.FatalCtx(ctx, "Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err)
	}
}

// connectDatabase opens the database with exponential backoff, then
// applies the connection pool settings.
func connectDatabase(ctx context.Context, cfg *config.AdminConfig) (*gorm.DB, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute

	var db *gorm.DB
	operation := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	return db, nil
}
