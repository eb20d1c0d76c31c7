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

	"github.com/casefile-ai/docproc-be/utils"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Semantic search over a firm's embedded documents",
	Long: `Embeds the query and lists the most similar stored chunks for the
firm, closest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		firmID, _ := cmd.Flags().GetString("firm")
		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")

		if firmID == "" || query == "" {
			log.Fatal("both --firm and --query are required")
		}

		cfg := loadConfigOrDie()
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		ctx := context.Background()

		svc, err := buildServices(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize services: %v", err)
		}
		defer svc.Close()

		matches, err := svc.embeddings.SearchChunks(ctx, firmID, query, limit)
		if err != nil {
			log.Fatalf("Search failed: %v", err)
		}
		if len(matches) == 0 {
			fmt.Println("No matches")
			return
		}
		for i, m := range matches {
			fmt.Printf("%2d. distance=%.4f document=%s chunk=%d\n", i+1, m.Distance, m.DocumentID, m.ChunkIndex)
			fmt.Printf("    %s\n", utils.TruncateString(m.Content, 200))
		}
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	// Here you will define your flags and configuration settings.

	// Cobra supports Persistent Flags which will work for this command
	// and all subcommands, e.g.:
	// searchCmd.PersistentFlags().String("foo", "", "A help for foo")

	// Cobra supports local flags which will only run when this command
	// is called directly, e.g.:
	// searchCmd.Flags().BoolP("toggle", "t", false, "Help message for toggle")
	searchCmd.Flags().String("firm", "", "Firm (tenant) to search in")
	searchCmd.Flags().StringP("query", "q", "", "Query text")
	searchCmd.Flags().IntP("limit", "n", 10, "Maximum number of chunks to return")
}
