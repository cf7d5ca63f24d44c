package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/auth"
	"github.com/MarcoPoloResearchLab/intentions/internal/config"
	"github.com/MarcoPoloResearchLab/intentions/internal/database"
	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
	"github.com/MarcoPoloResearchLab/intentions/internal/drafts"
	"github.com/MarcoPoloResearchLab/intentions/internal/events"
	"github.com/MarcoPoloResearchLab/intentions/internal/logging"
	"github.com/MarcoPoloResearchLab/intentions/internal/mail"
	"github.com/MarcoPoloResearchLab/intentions/internal/render"
	"github.com/MarcoPoloResearchLab/intentions/internal/server"
	"github.com/MarcoPoloResearchLab/intentions/internal/session"
	"github.com/MarcoPoloResearchLab/intentions/internal/subscriptions"
	"github.com/MarcoPoloResearchLab/intentions/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	bcryptCost        = 12
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intentions-api",
		Short: "Intentions planner and debrief backend service",
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("timezone", defaults.GetString("calendar.timezone"), "IANA timezone used to bucket items into days")
	flags.String("stash-path", defaults.GetString("debrief.stash_path"), "Directory holding unsaved debrief drafts")
	flags.String("identity-client-id", "", "Third-party sign-in client ID")
	flags.String("identity-jwks-url", "", "Third-party sign-in JWKS URL")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "calendar.timezone", "timezone")
	bindFlag(cmd, "debrief.stash_path", "stash-path")
	bindFlag(cmd, "identity.client_id", "identity-client-id")
	bindFlag(cmd, "identity.jwks_url", "identity-jwks-url")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
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

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
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

	dispatcher := events.NewDispatcher()

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
		Listener:   dispatcher,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		SessionTTL:    appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(tokenIssuer, "")
	if err != nil {
		return err
	}

	mailer, err := newMailer(appConfig.SMTP, logger)
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewBcryptPasswordHasher(bcryptCost),
		Tokens:   tokenIssuer,
		Mailer:   mailer,
		Events:   dispatcher,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceConfig{
		Database:         db,
		Statuses:         userService,
		Events:           dispatcher,
		PremiumProductID: appConfig.PremiumProductID,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	stash, err := drafts.NewStash(appConfig.StashPath)
	if err != nil {
		return err
	}

	registry, err := session.NewRegistry(session.Config{
		Documents:     documentService,
		Tiers:         subscriptionService,
		Events:        dispatcher,
		Stash:         stash,
		AutosaveDelay: appConfig.AutosaveDelay,
		Location:      appConfig.Location,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Users:         userService,
		Subscriptions: subscriptionService,
		Workspaces:    registry,
		Sessions:      sessionValidator,
		Nonces:        auth.NewNonceRegistry(nil, 0, nil),
		Events:        dispatcher,
		Renderer:      render.NewHTMLRenderer(),
		Logger:        logger,
	}
	if appConfig.Identity.Enabled() {
		verifier, err := auth.NewIdentityVerifier(auth.IdentityVerifierConfig{
			Audience:       appConfig.Identity.ClientID,
			JWKSURL:        appConfig.Identity.JWKSURL,
			AllowedIssuers: appConfig.Identity.Issuers,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		deps.Identity = verifier
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Stop accepting requests before flushing debrief drafts.
		serverErr := httpServer.Shutdown(shutdownCtx)
		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Error("workspace shutdown failed", zap.Error(err))
		}
		return serverErr
	case err := <-errCh:
		return err
	}
}

func newMailer(cfg config.SMTPConfig, logger *zap.Logger) (users.Mailer, error) {
	if cfg.Host == "" {
		logger.Warn("smtp host not configured, mail will be logged")
		return mail.NewLogMailer(logger), nil
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
		BaseURL:     cfg.BaseURL,
	})
}
