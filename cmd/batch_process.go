/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// batchProcessCmd represents the batchProcess command
var batchProcessCmd = &cobra.Command{
	Use:   "batch-process",
	Short: "Queue every supported document in a directory",
	Long: `Queues every PDF and image in a directory for the firm. With
--drain the command then processes the queue in the foreground until it
is empty and prints the collected metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("directory")
		firmID, _ := cmd.Flags().GetString("firm")
		caseID, _ := cmd.Flags().GetString("case")
		uploadedBy, _ := cmd.Flags().GetString("uploaded-by")
		drain, _ := cmd.Flags().GetBool("drain")

		if dir == "" || firmID == "" {
			log.Fatal("both --directory and --firm are required")
		}

		cfg := loadConfigOrDie()
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx := context.Background()

		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize services: %v", err)
		}
		defer svc.Close()

		docs, err := svc.pipeline.EnqueueDirectory(ctx, firmID, dir, caseID, uploadedBy)
		if err != nil {
			log.Fatalf("Failed to enqueue directory: %v", err)
		}
		fmt.Printf("Enqueued %d documents\n", len(docs))

		if !drain {
			return
		}
		processed := 0
		for {
			handled, err := svc.pipeline.ProcessOne(ctx)
			if err != nil {
				log.Fatalf("Failed processing queue: %v", err)
			}
			if !handled {
				break
			}
			processed++
		}
		fmt.Printf("Processed %d documents\n", processed)
		fmt.Print(svc.metrics.ExportFlatFormat())
	},
}

func init() {
	rootCmd.AddCommand(batchProcessCmd)

	// Here you will define your flags and configuration settings.

	// Cobra supports Persistent Flags which will work for this command
	// and all subcommands, e.g.:
	// batchProcessCmd.PersistentFlags().String("foo", "", "A help for foo")

	// Cobra supports local flags which will only run when this command
	// is called directly, e.g.:
	// batchProcessCmd.Flags().BoolP("toggle", "t", false, "Help message for toggle")
	batchProcessCmd.Flags().String("directory", "", "Path to the directory to queue")
	batchProcessCmd.Flags().String("firm", "", "Firm (tenant) the documents belong to")
	batchProcessCmd.Flags().String("case", "", "Case the documents belong to")
	batchProcessCmd.Flags().String("uploaded-by", "", "User recorded as uploader")
	batchProcessCmd.Flags().Bool("drain", false, "Process the queue in the foreground after enqueueing")
}
