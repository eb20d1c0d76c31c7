/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// processDocumentCmd represents the processDocument command
var processDocumentCmd = &cobra.Command{
	Use:   "process-document",
	Short: "Queue one document and process it to completion",
	Long: `Copies a file into the firm's upload area, queues it and runs the
full pipeline on it in the foreground: OCR, chunk embedding and
classification. Prints the final document record as JSON.`,
	Run: func(cmd *cobra.Command, args []string) {
		filePath, _ := cmd.Flags().GetString("file")
		firmID, _ := cmd.Flags().GetString("firm")
		caseID, _ := cmd.Flags().GetString("case")
		uploadedBy, _ := cmd.Flags().GetString("uploaded-by")

		if filePath == "" || firmID == "" {
			log.Fatal("both --file and --firm are required")
		}

		cfg := loadConfigOrDie()
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx := context.Background()

		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize services: %v", err)
		}
		defer svc.Close()

		doc, err := svc.pipeline.EnqueueDocument(ctx, firmID, filePath, caseID, uploadedBy)
		if err != nil {
			log.Fatalf("Failed to enqueue document: %v", err)
		}
		fmt.Println("Enqueued document", doc.ID)

		handled, err := svc.pipeline.ProcessOne(ctx)
		if err != nil {
			log.Fatalf("Failed to process document: %v", err)
		}
		if !handled {
			log.Fatal("no pending job found to process")
		}

		final, err := svc.documents.GetDocument(ctx, firmID, doc.ID)
		if err != nil {
			log.Fatalf("Failed to load processed document: %v", err)
		}
		out, err := json.MarshalIndent(final, "", "  ")
		if err != nil {
			log.Fatalf("Failed to render document: %v", err)
		}
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(processDocumentCmd)

	// Here you will define your flags and configuration settings.

	// Cobra supports Persistent Flags which will work for this command
	// and all subcommands, e.g.:
	// processDocumentCmd.PersistentFlags().String("foo", "", "A help for foo")

	// Cobra supports local flags which will only run when this command
	// is called directly, e.g.:
	// processDocumentCmd.Flags().BoolP("toggle", "t", false, "Help message for toggle")
	processDocumentCmd.Flags().StringP("file", "f", "", "Path to the document to process")
	processDocumentCmd.Flags().String("firm", "", "Firm (tenant) the document belongs to")
	processDocumentCmd.Flags().String("case", "", "Case the document belongs to")
	processDocumentCmd.Flags().String("uploaded-by", "", "User recorded as uploader")
}
