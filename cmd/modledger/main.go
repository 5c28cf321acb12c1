package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/auth"
	"github.com/MarcoPoloResearchLab/modledger/internal/config"
	"github.com/MarcoPoloResearchLab/modledger/internal/logging"
	"github.com/MarcoPoloResearchLab/modledger/internal/moderation"
	"github.com/MarcoPoloResearchLab/modledger/internal/server"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "modledger",
		Short:         "Community moderation ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newImportCommand(), newPurgeCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("store-backend", defaults.GetString("store.backend"), "Document store backend (redis, sqlite, mongo)")
	cmd.PersistentFlags().Duration("store-timeout", defaults.GetDuration("store.timeout"), "Upper bound on every document store call")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis connection URL")
	cmd.PersistentFlags().String("sqlite-path", defaults.GetString("sqlite.path"), "SQLite database path")
	cmd.PersistentFlags().String("mongo-uri", defaults.GetString("mongo.uri"), "MongoDB connection URI")
	cmd.PersistentFlags().String("mongo-database", defaults.GetString("mongo.database"), "MongoDB database name")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "store.backend", "store-backend")
	bindFlag(cmd, "store.timeout", "store-timeout")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "sqlite.path", "sqlite-path")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "mongo.database", "mongo-database")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
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

// application bundles the configuration and the moderation service a subcommand runs against.
type application struct {
	config  config.AppConfig
	logger  *zap.Logger
	store   store.Store
	service *moderation.Service
}

func openApplication(ctx context.Context, events moderation.EventSink) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	documents, err := store.Open(ctx, appConfig.StoreConfig(), logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	service, err := moderation.NewService(moderation.ServiceConfig{
		Store:      documents,
		Policy:     appConfig.Policy(),
		Clock:      time.Now,
		IDProvider: moderation.NewUUIDProvider(),
		Events:     events,
		Logger:     logger,
	})
	if err != nil {
		_ = documents.Close()
		_ = logger.Sync()
		return nil, err
	}

	return &application{config: appConfig, logger: logger, store: documents, service: service}, nil
}

func (r *application) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close document store", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	dispatcher := server.NewRealtimeDispatcher()
	app, err := openApplication(ctx, dispatcher)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.config.RequireSigningSecret(); err != nil {
		return err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(app.config.SigningSecret),
		Issuer:        app.config.Issuer,
		Audience:      app.config.Audience,
		CookieName:    app.config.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:   validator,
		Moderation: app.service,
		Realtime:   dispatcher,
		Logger:     app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
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

func newImportCommand() *cobra.Command {
	var (
		file        string
		communityID string
		reason      string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Record one offense for every author in a CSV export",
		RunE: func(cmd *cobra.Command, args []string) error {
			var input io.Reader = cmd.InOrStdin()
			if file != "-" {
				handle, err := os.Open(file)
				if err != nil {
					return err
				}
				defer handle.Close()
				input = handle
			}
			feed, err := moderation.ParseImportFeed(input)
			if err != nil {
				return err
			}

			app, err := openApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.service.Import(cmd.Context(), moderation.ImportRequest{
				Feed:        feed,
				CommunityID: communityID,
				Reason:      reason,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "CSV export to import, - for stdin")
	cmd.Flags().StringVar(&communityID, "community", "", "Community the offenses are recorded against")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on every imported offense")
	_ = cmd.MarkFlagRequired("community")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newPurgeCommand() *cobra.Command {
	var communityID string
	cmd := &cobra.Command{
		Use:   "purge-community",
		Short: "Remove every offense recorded against a community",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApplication(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.service.PurgeCommunity(cmd.Context(), communityID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&communityID, "community", "", "Community whose offenses are removed")
	_ = cmd.MarkFlagRequired("community")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var (
		subject     string
		displayName string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Sign a moderator session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			if err := appConfig.RequireSigningSecret(); err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				Audience:      appConfig.Audience,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueSessionToken(cmd.Context(), subject, displayName)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"access_token": token,
				"expires_in":   expiresIn,
				"token_type":   "Bearer",
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Moderator external id")
	cmd.Flags().StringVar(&displayName, "name", "", "Moderator display name")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func printJSON(w io.Writer, value interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
