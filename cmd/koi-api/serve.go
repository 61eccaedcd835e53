package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/auth"
	"github.com/MarcoPoloResearchLab/koi/internal/config"
	"github.com/MarcoPoloResearchLab/koi/internal/database"
	"github.com/MarcoPoloResearchLab/koi/internal/logging"
	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"github.com/MarcoPoloResearchLab/koi/internal/realtime"
	"github.com/MarcoPoloResearchLab/koi/internal/server"
	"github.com/MarcoPoloResearchLab/koi/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 5 * time.Second
	checkinLockTTL   = 10 * time.Second
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the progression API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	defaults := config.NewViper()
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.Flags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.Flags().String("database-dsn", defaults.GetString("database.dsn"), "Database path or connection string")
	cmd.Flags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.Flags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for the check-in lock (optional)")
	cmd.Flags().Int("retention-days", defaults.GetInt("checkin.retention_days"), "Days of check-in history to keep (0 keeps all)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "checkin.retention_days", "retention-days")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var checkinLock profiles.CheckinLock
	if appConfig.RedisURL != "" {
		redisClient, err := openRedis(ctx, appConfig.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checkinLock = profiles.NewRedisCheckinLock(redisClient, checkinLockTTL)
		logger.Info("check-in lock enabled", zap.String("backend", "redis"))
	}

	dispatcher := realtime.NewDispatcher()

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		Publisher:   dispatcher,
		CheckinLock: checkinLock,
		AdminEmails: appConfig.AdminEmails,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:    db,
		Provisioner: profileService,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Accounts:       userService,
		Profiles:       profileService,
		Stream:         dispatcher,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	if retention := appConfig.Retention(); retention > 0 {
		scheduler, err := profiles.NewRetentionScheduler(profiles.RetentionConfig{
			Service:   profileService,
			Retention: retention,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				logger.Warn("retention scheduler shutdown failed", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
