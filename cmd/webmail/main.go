package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/x69x/webmail/internal/api"
	"github.com/x69x/webmail/internal/credential"
	"github.com/x69x/webmail/internal/model"
	"github.com/x69x/webmail/internal/provider"
	"github.com/x69x/webmail/internal/session"
	"github.com/x69x/webmail/internal/store"
	appsync "github.com/x69x/webmail/internal/sync"
)

var (
	configPath = flag.String("config", model.DefaultConfigPath(), "Path to the configuration file")
	setKey     = flag.String("set-key", "", "Store the provisioning API key in the system keyring and exit")
	deleteKey  = flag.Bool("delete-key", false, "Remove the provisioning API key from the system keyring and exit")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if *setKey != "" {
		if err := credential.Set(credential.ProviderAPIKey, *setKey); err != nil {
			logger.WithError(err).Fatal("Failed to store provider API key")
		}
		logger.Info("Provider API key stored in keyring")
		return
	}
	if *deleteKey {
		if err := credential.Delete(credential.ProviderAPIKey); err != nil {
			logger.WithError(err).Fatal("Failed to delete provider API key")
		}
		logger.Info("Provider API key removed from keyring")
		return
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Write the defaults on first run so the user has a file to edit.
	if _, statErr := os.Stat(*configPath); os.IsNotExist(statErr) {
		if err := model.SaveConfig(*configPath, cfg); err != nil {
			logger.WithError(err).Warn("Failed to write default configuration")
		}
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting webmail")

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = model.DefaultDBPath()
	}
	accountStore, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open account store")
	}
	defer accountStore.Close()

	providerClient := provider.NewClient(cfg.ProviderURL, loadProviderKey(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := session.New(ctx, accountStore, providerClient, logger)

	scheduler := appsync.New(logger)
	scheduler.Arm(time.Duration(cfg.PollIntervalSec)*time.Second, ctrl.RefreshMessages)
	defer scheduler.Disarm()

	// Populate the inbox for a persisted active account before serving.
	if err := ctrl.RefreshMessages(ctx); err != nil {
		logger.WithError(err).Warn("initial refresh failed")
	}

	hub := api.NewHub()
	apiServer := api.NewServer(cfg, ctrl, hub, logger)
	go apiServer.WatchChanges(ctx)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: apiServer,
	}

	go func() {
		logger.WithField("addr", httpAddr).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	logger.Info("Shutting down")
	scheduler.Disarm()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}
}

// loadProviderKey resolves the provisioning API key from the environment,
// falling back to the system keyring. An empty key is allowed; the
// provider then rejects privileged actions itself.
func loadProviderKey() string {
	if key := os.Getenv("WEBMAIL_PROVIDER_API_KEY"); key != "" {
		return key
	}
	key, err := credential.Get(credential.ProviderAPIKey)
	if err != nil {
		return ""
	}
	return key
}
