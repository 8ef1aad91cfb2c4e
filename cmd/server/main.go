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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/citylight-dev/congregate/internal/config"
	"github.com/citylight-dev/congregate/pkg/api"
	"github.com/citylight-dev/congregate/pkg/cache"
	"github.com/citylight-dev/congregate/pkg/clients/orgstore"
	"github.com/citylight-dev/congregate/pkg/clients/sheetsclient"
	"github.com/citylight-dev/congregate/pkg/core/services"
	"github.com/citylight-dev/congregate/pkg/utils/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "congregate",
		Short: "Membership and service-plan backend",
		Long:  `HTTP backend serving members and service plans from Google Sheets with organisation records in Firestore.`,
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var logDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, logDir)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to congregate.yaml (default: search cwd then home)")
	cmd.Flags().StringVar(&logDir, "log-dir", "logs", "Directory for JSON log files (empty disables file logging)")

	return cmd
}

func runServer(configPath, logDir string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.InitLogger(logDir)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defaultSheetID := orgstore.ExtractSpreadsheetID(cfg.DefaultSheetURL, "")
	if defaultSheetID == "" {
		return fmt.Errorf("defaultSheetURL does not contain a spreadsheet id: %s", cfg.DefaultSheetURL)
	}

	sheets, err := sheetsclient.NewClient(ctx, cfg.GoogleCredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to create sheets client: %w", err)
	}

	orgs, err := orgstore.NewStore(ctx, cfg.FirestoreProjectID, cfg.GoogleCredentialsFile, defaultSheetID, logger)
	if err != nil {
		return fmt.Errorf("failed to create organisation store: %w", err)
	}
	defer orgs.Close()

	store := cache.New()
	registry := services.NewRegistry(sheets, orgs, store, logger, services.RegistryConfig{
		DefaultSpreadsheetID: defaultSheetID,
		MembersRange:         cfg.MembersRange,
		ServiceRule:          cfg.ServiceRule,
		MembersTTL:           cfg.MembersTTL(),
		PlansTTL:             cfg.PlansTTL(),
		MaxPlanTabs:          cfg.MaxPlanTabs,
	})

	handler := api.NewHandler(registry, orgs, logger, cfg.CORSOrigins)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler.Router(),
	}

	// Periodic sweep keeps never-read keys from accumulating; Get
	// handles correctness on its own.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				registry.CleanupCache()
			}
		}
	}()

	go func() {
		logger.Info("starting http server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}

	return nil
}
