package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/config"
	"github.com/xxxsen/magent/internal/db"
	"github.com/xxxsen/magent/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "magent",
		Short: "magent agent conversation server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run magent server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return runServer(cfg, app)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer conn.Close()
			if err := db.ApplyMigrations(cmd.Context(), conn); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			logutil.GetLogger(cmd.Context()).Info("migrations applied")
			return nil
		},
	}

	var ingestReq service.IngestRequest
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "ingest one stored document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			res, err := app.ingest.Ingest(cmd.Context(), ingestReq)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "document %s: %d chunks, %d dimensions\n",
				ingestReq.DocumentID, res.ChunkCount, res.EmbeddingDimensions)
			return nil
		},
	}
	ingestCmd.Flags().StringVar(&ingestReq.DocumentID, "document", "", "document id")
	ingestCmd.Flags().StringVar(&ingestReq.CompanyID, "company", "", "company id")
	ingestCmd.Flags().StringVar(&ingestReq.AgentID, "agent", "", "agent id, overrides the stored one")
	ingestCmd.Flags().StringVar(&ingestReq.StorageLocator, "locator", "", "file store key, overrides the stored one")
	_ = ingestCmd.MarkFlagRequired("document")
	_ = ingestCmd.MarkFlagRequired("company")

	rootCmd.AddCommand(runCmd, migrateCmd, ingestCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}
