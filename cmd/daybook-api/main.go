package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daybook-labs/daybook/backend/internal/analyzer"
	"github.com/daybook-labs/daybook/backend/internal/auth"
	"github.com/daybook-labs/daybook/backend/internal/config"
	"github.com/daybook-labs/daybook/backend/internal/database"
	"github.com/daybook-labs/daybook/backend/internal/logging"
	"github.com/daybook-labs/daybook/backend/internal/server"
	"github.com/daybook-labs/daybook/backend/internal/summaries"
	"github.com/daybook-labs/daybook/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "daybook-api",
		Short: "Daybook daily summary backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("oidc-audience", defaults.GetString("oidc.audience"), "Expected audience of upstream ID tokens")
	cmd.PersistentFlags().String("oidc-jwks-url", defaults.GetString("oidc.jwks_url"), "JWKS URL of the upstream identity provider")
	cmd.PersistentFlags().String("analyzer-command", defaults.GetString("analyzer.command"), "Analyzer interpreter binary")
	cmd.PersistentFlags().String("analyzer-script", defaults.GetString("analyzer.script"), "Analyzer script path")
	cmd.PersistentFlags().Int("analyzer-timeout-seconds", defaults.GetInt("analyzer.timeout_seconds"), "Analyzer invocation deadline in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "oidc.audience", "oidc-audience")
	bindFlag(cmd, "oidc.jwks_url", "oidc-jwks-url")
	bindFlag(cmd, "analyzer.command", "analyzer-command")
	bindFlag(cmd, "analyzer.script", "analyzer-script")
	bindFlag(cmd, "analyzer.timeout_seconds", "analyzer-timeout-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "daybook-auth",
		Audience:      "daybook-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	identityVerifier, err := auth.NewOIDCVerifier(auth.OIDCVerifierConfig{
		Audience:       appConfig.OIDCAudience,
		JWKSURL:        appConfig.OIDCJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
	})
	if err != nil {
		return err
	}

	processInvoker, err := analyzer.NewProcessInvoker(analyzer.ProcessInvokerConfig{
		Command:    appConfig.AnalyzerCommand,
		ScriptPath: appConfig.AnalyzerScript,
		Timeout:    appConfig.AnalyzerTimeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	summariesService, err := summaries.NewService(summaries.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: summaries.NewUUIDProvider(),
		Analyzer:   processInvoker,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: identityVerifier,
		TokenManager:     tokenManager,
		UsersService:     usersService,
		SummariesService: summariesService,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
