package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/auth"
	"github.com/MarcoPoloResearchLab/indelible/internal/canvases"
	"github.com/MarcoPoloResearchLab/indelible/internal/cloudsync"
	"github.com/MarcoPoloResearchLab/indelible/internal/config"
	"github.com/MarcoPoloResearchLab/indelible/internal/database"
	"github.com/MarcoPoloResearchLab/indelible/internal/logging"
	"github.com/MarcoPoloResearchLab/indelible/internal/server"
	"github.com/MarcoPoloResearchLab/indelible/internal/syncbridge"
	"github.com/MarcoPoloResearchLab/indelible/internal/toolstate"
	"github.com/MarcoPoloResearchLab/indelible/internal/users"
	"github.com/MarcoPoloResearchLab/indelible/internal/workspace"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "indelible",
		Short: "Local-first drawing canvas server",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file; missing files are ignored")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("canvas", defaults.GetString("canvas.slug"), "Canvas slug to open on start")
	cmd.PersistentFlags().Float64("viewport-width", defaults.GetFloat64("viewport.width"), "Viewport width used to size images")
	cmd.PersistentFlags().Float64("viewport-height", defaults.GetFloat64("viewport.height"), "Viewport height used to size images")
	cmd.PersistentFlags().Float64("point-threshold", defaults.GetFloat64("tools.point_threshold"), "Minimum distance between freehand points")
	cmd.PersistentFlags().String("id-strategy", defaults.GetString("ids.strategy"), "Identifier strategy (uuidv7, ulid)")
	cmd.PersistentFlags().String("sync-url", defaults.GetString("sync.url"), "Base URL of the remote sync service")
	cmd.PersistentFlags().String("sync-signing-secret", "", "Secret used to verify sync access tokens (overrides env)")
	cmd.PersistentFlags().Int("sync-interval-seconds", defaults.GetInt("sync.interval_seconds"), "Seconds between background sync rounds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "canvas.slug", "canvas")
	bindFlag(cmd, "viewport.width", "viewport-width")
	bindFlag(cmd, "viewport.height", "viewport-height")
	bindFlag(cmd, "tools.point_threshold", "point-threshold")
	bindFlag(cmd, "ids.strategy", "id-strategy")
	bindFlag(cmd, "sync.url", "sync-url")
	bindFlag(cmd, "sync.signing_secret", "sync-signing-secret")
	bindFlag(cmd, "sync.interval_seconds", "sync-interval-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
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

	idProvider, err := canvases.NewIDProvider(appConfig.IDStrategy)
	if err != nil {
		return err
	}
	startLocation := "/"
	if appConfig.CanvasSlug != "" {
		startLocation = "/?" + url.Values{canvases.CanvasQueryParameter: {appConfig.CanvasSlug}}.Encode()
	}
	locator, err := canvases.NewURLLocator(startLocation)
	if err != nil {
		return err
	}
	repository, err := canvases.NewRepository(canvases.RepositoryConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Locator:    locator,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	canvasWorkspace, err := workspace.New(workspace.Config{
		Machine: toolstate.NewMachine(toolstate.Config{
			Viewport:       toolstate.Viewport{Width: appConfig.ViewportWidth, Height: appConfig.ViewportHeight},
			PointThreshold: appConfig.PointThreshold,
		}),
		Repository: repository,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	if !canvasWorkspace.Initialize(ctx) {
		logger.Info("no canvas to open yet")
	}

	directory, err := users.NewDirectory(users.DirectoryConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	verifier := auth.NewTokenVerifier(auth.TokenVerifierConfig{
		SigningSecret: []byte(appConfig.SyncSigningSecret),
	})
	if appConfig.SyncConfigured() && !verifier.ChecksSignature() {
		logger.Warn("sync signing secret not set; access token signatures are not checked")
	}
	syncClient, err := cloudsync.NewClient(cloudsync.Config{
		BaseURL:    appConfig.SyncURL,
		Verifier:   verifier,
		Directory:  directory,
		Repository: repository,
		OnLogin: func(ctx context.Context, identity users.Identity) error {
			claimed, err := repository.ClaimUnowned(ctx, identity.UserID)
			if err == nil && claimed > 0 {
				logger.Info("claimed local canvases", zap.String("user_id", identity.UserID), zap.Int64("count", claimed))
			}
			return err
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	var collaborator syncbridge.Collaborator
	var syncer server.Syncer
	if syncClient.Configured() {
		collaborator = syncClient
		syncer = syncClient
	}
	bridge := syncbridge.New(collaborator, logger)
	defer bridge.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := server.NewRealtimeDispatcher()
	stopForwarding := server.ForwardChanges(dispatcher, repository, bridge)
	defer stopForwarding()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Workspace: canvasWorkspace,
		Bridge:    bridge,
		Syncer:    syncer,
		Realtime:  dispatcher,
		Logger:    logger,
		Context:   signalCtx,
	})
	if err != nil {
		return err
	}

	go syncClient.Run(signalCtx, appConfig.SyncInterval)

	httpServer := &http.Server{
		Addr:        appConfig.HTTPAddress,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return signalCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("sync_configured", appConfig.SyncConfigured()))
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
