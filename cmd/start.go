/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/casefile-ai/docproc-be/service"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the document processing workers",
	Long:  `Starts the workers that claim queued documents, OCR them, embed their chunks and classify them until interrupted`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfigOrDie()

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize services: %v", err)
		}
		defer svc.Close()

		var wg sync.WaitGroup
		for i := 0; i < cfg.Worker.Count; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				svc.pipeline.Run(ctx)
			}()
		}

		if cfg.Metrics.ExportPath != "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				exportMetricsLoop(ctx, svc.metrics, cfg.Metrics.ExportPath,
					time.Duration(cfg.Metrics.ExportIntervalSeconds)*time.Second, logger)
			}()
		}

		logger.Info("workers started",
			"workers", cfg.Worker.Count,
			"pool_size", service.SharedPool().Size(),
			"provider", cfg.Embedding.Provider)

		<-ctx.Done()
		logger.Info("shutting down")
		wg.Wait()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// exportMetricsLoop writes the flat export to path every interval until ctx
// is canceled, leaving one last export behind on shutdown.
func exportMetricsLoop(ctx context.Context, metrics *service.MetricsService, path string, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, snap := range metrics.SnapshotAll() {
				logger.Info("metrics", "operation", snap.Operation,
					"total", snap.TotalCalls, "failed", snap.FailedCalls,
					"avg_seconds", snap.Latency.Avg, "p95_seconds", snap.Latency.P95)
			}
			if err := os.WriteFile(path, []byte(metrics.ExportFlatFormat()), 0644); err != nil {
				logger.Warn("metrics export failed", "path", path, "error", err)
			}
		case <-ctx.Done():
			if err := os.WriteFile(path, []byte(metrics.ExportFlatFormat()), 0644); err != nil {
				logger.Warn("final metrics export failed", "path", path, "error", err)
			}
			return
		}
	}
}
