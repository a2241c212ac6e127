package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/auth"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/config"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/dashboard"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/database"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/emissions"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/hectares"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/logging"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/records"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/server"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/tokens"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenAudience   = "ecocarbon-api"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
	envDir  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ecocarbon-api",
		Short: "Carbon accounting dashboard backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newBootstrapAdminCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envDir, "env-dir", ".", "Directory holding .env files")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("sentry-dsn", defaults.GetString("log.sentry_dsn"), "Sentry DSN for error reporting")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("auth-rate-limit", defaults.GetString("auth.rate_limit"), "Sign-in rate limit per client IP (e.g. 20-M)")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS allowed origins")
	cmd.PersistentFlags().Int("dashboard-workers", defaults.GetInt("dashboard.workers"), "Concurrent dashboard section loads")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.sentry_dsn", "sentry-dsn")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.rate_limit", "auth-rate-limit")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "dashboard.workers", "dashboard-workers")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadEnvFiles(envDir); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newBootstrapAdminCommand() *cobra.Command {
	var email, password, fullName string
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Provision the first admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, flush, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, SentryDSN: appConfig.SentryDSN})
			if err != nil {
				return err
			}
			defer flush()

			db, closeDB, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			provider, _, err := buildIdentity(appConfig, db, realtime.NopPublisher{}, logger)
			if err != nil {
				return err
			}
			profile, err := provider.BootstrapAdmin(cmd.Context(), email, password, fullName)
			if err != nil {
				return err
			}
			logger.Info("admin provisioned", zap.String("profile_id", profile.ID), zap.String("email", profile.Email))
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s provisioned with id %s\n", profile.Email, profile.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&password, "password", "", "Admin password")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Admin full name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func buildIdentity(appConfig config.AppConfig, db *gorm.DB, publisher realtime.Publisher, logger *zap.Logger) (*auth.Provider, *auth.SessionValidator, error) {
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      tokenAudience,
	})
	if err != nil {
		return nil, nil, err
	}
	provider, err := auth.NewProvider(auth.ProviderConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: records.NewUUIDProvider(),
		Tokens:     tokenIssuer,
		Publisher:  publisher,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return provider, validator, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, flush, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, SentryDSN: appConfig.SentryDSN})
	if err != nil {
		return err
	}
	defer flush()

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	dispatcher := realtime.NewDispatcher()
	ids := records.NewUUIDProvider()

	provider, validator, err := buildIdentity(appConfig, db, dispatcher, logger)
	if err != nil {
		return err
	}
	broker, err := auth.NewSessionBroker(auth.SessionBrokerConfig{
		Resolver: provider,
		Events:   dispatcher,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		Identities: provider,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	hectareService, err := hectares.NewService(hectares.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	emissionService, err := emissions.NewService(emissions.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Hectares:   hectareService,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	tokenService, err := tokens.NewService(tokens.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Publisher:  dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	composer, err := dashboard.NewComposer(dashboard.Config{
		Hectares:  hectareService,
		Emissions: emissionService,
		Tokens:    tokenService,
		Profiles:  userService,
		Workers:   appConfig.Workers,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer composer.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       validator,
		Identity:       provider,
		Hectares:       hectareService,
		Emissions:      emissionService,
		Tokens:         tokenService,
		Users:          userService,
		Dashboards:     composer,
		Realtime:       dispatcher,
		SessionWatcher: broker,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		AuthRateLimit:  appConfig.AuthRateLimit,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("database_driver", appConfig.DatabaseDriver))
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
