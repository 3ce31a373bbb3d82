package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/opsboard/flowmirror/internal/config"
	"github.com/opsboard/flowmirror/internal/httpapi"
	"github.com/opsboard/flowmirror/internal/logger"
	"github.com/opsboard/flowmirror/internal/mirror"
	"github.com/opsboard/flowmirror/internal/realtime"
	"github.com/opsboard/flowmirror/internal/store/sqlstore"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("http-addr", ":4000", "listen address for the http api")
	cmd.Flags().String("database-dsn", "", "postgres:// dsn or sqlite file path")
	cmd.Flags().String("log-level", "info", "zap log level")
	cmd.Flags().String("jwt-secret", "", "hmac secret for session tokens")
	cmd.Flags().String("email-domain", "", "restrict admin-created accounts to this email domain")
	cmd.Flags().String("frontend-url", "http://localhost:3000", "comma separated allowed frontend origins")
	cmd.Flags().String("google-client-id", "", "google oauth client id")
	cmd.Flags().String("google-client-secret", "", "google oauth client secret")
	cmd.Flags().String("google-redirect-uri", "http://localhost:4000/auth/callback", "google oauth redirect uri")
	cmd.Flags().String("n8n-url", "", "primary n8n base url")
	cmd.Flags().String("n8n-api-key", "", "primary n8n api key")
	cmd.Flags().String("local-n8n-url", "", "local n8n base url")
	cmd.Flags().String("local-n8n-api-key", "", "local n8n api key")
	cmd.Flags().Duration("sync-initial-delay", mirror.DefaultInitialDelay, "wait before the first sync cycle")
	cmd.Flags().Duration("sync-interval", mirror.DefaultInterval, "wait between sync cycles")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}
	viper.SetEnvPrefix("flowmirror")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	c.cfg = config.Config{
		HTTPAddr:           viper.GetString("http-addr"),
		DatabaseDSN:        viper.GetString("database-dsn"),
		LogLevel:           viper.GetString("log-level"),
		JWTSecret:          viper.GetString("jwt-secret"),
		AllowedEmailDomain: viper.GetString("email-domain"),
		FrontendURLs:       []string{viper.GetString("frontend-url")},
		GoogleClientID:     viper.GetString("google-client-id"),
		GoogleClientSecret: viper.GetString("google-client-secret"),
		GoogleRedirectURI:  viper.GetString("google-redirect-uri"),
		PrimaryN8NURL:      viper.GetString("n8n-url"),
		PrimaryN8NAPIKey:   viper.GetString("n8n-api-key"),
		LocalN8NURL:        viper.GetString("local-n8n-url"),
		LocalN8NAPIKey:     viper.GetString("local-n8n-api-key"),
		SyncInitialDelay:   viper.GetDuration("sync-initial-delay"),
		SyncInterval:       viper.GetDuration("sync-interval"),
		FetchTimeout:       mirror.FetchTimeout,
	}
	logger.Configure(c.cfg.LogLevel)
	return c.cfg.Validate()
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	st, err := sqlstore.Open(c.cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	hub := realtime.NewHub()
	registry := mirror.NewRegistry(c.cfg.StaticSources(), st)
	syncer := mirror.NewSyncer(mirror.SyncerOptions{
		Sources:      registry,
		Fetcher:      mirror.NewHTTPFetcher(nil),
		Reconciler:   mirror.NewReconciler(st),
		Notifier:     hub,
		InitialDelay: c.cfg.SyncInitialDelay,
		Interval:     c.cfg.SyncInterval,
	})

	identity := httpapi.NewGoogleProvider(
		c.cfg.GoogleClientID, c.cfg.GoogleClientSecret, c.cfg.GoogleRedirectURI, nil)
	server := httpapi.NewServer(st, hub, identity, registry, httpapi.ServerConfig{
		JWTSecret:          c.cfg.JWTSecret,
		AllowedEmailDomain: c.cfg.AllowedEmailDomain,
		AllowedOrigins:     c.cfg.AllowedOrigins(),
		PrimaryFrontend:    c.cfg.PrimaryFrontend(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go syncer.Run(ctx)

	httpServer := &http.Server{
		Addr:        c.cfg.HTTPAddr,
		Handler:     server,
		IdleTimeout: 2 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("flowmirror listening", zap.String("addr", c.cfg.HTTPAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "flowmirror",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
