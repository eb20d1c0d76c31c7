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

// embedDocumentCmd represents the embedDocument command
var embedDocumentCmd = &cobra.Command{
	Use:   "embed-document",
	Short: "Embed an already-processed document's chunks",
	Long: `Chunks the stored OCR text of a document and writes one embedding
per chunk to Weaviate. A document that already has chunks is skipped
unless --force, which deletes the stale vectors and regenerates them.`,
	Run: func(cmd *cobra.Command, args []string) {
		docID, _ := cmd.Flags().GetString("document")
		firmID, _ := cmd.Flags().GetString("firm")
		force, _ := cmd.Flags().GetBool("force")

		if docID == "" || firmID == "" {
			log.Fatal("both --document and --firm are required")
		}

		cfg := loadConfigOrDie()
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx := context.Background()

		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize services: %v", err)
		}
		defer svc.Close()

		doc, err := svc.documents.GetDocument(ctx, firmID, docID)
		if err != nil {
			log.Fatalf("Failed to load document: %v", err)
		}

		res, err := svc.embeddings.EmbedDocument(ctx, doc, force)
		if err != nil {
			log.Fatalf("Failed to embed document: %v", err)
		}
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			log.Fatalf("Failed to render result: %v", err)
		}
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(embedDocumentCmd)

	// Here you will define your flags and configuration settings.

	// Cobra supports Persistent Flags which will work for this command
	// and all subcommands, e.g.:
	// embedDocumentCmd.PersistentFlags().String("foo", "", "A help for foo")

	// Cobra supports local flags which will only run when this command
	// is called directly, e.g.:
	// embedDocumentCmd.Flags().BoolP("toggle", "t", false, "Help message for toggle")
	embedDocumentCmd.Flags().StringP("document", "d", "", "Document ID to embed")
	embedDocumentCmd.Flags().String("firm", "", "Firm (tenant) the document belongs to")
	embedDocumentCmd.Flags().Bool("force", false, "Delete existing chunks and regenerate")
}
