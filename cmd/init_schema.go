/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/casefile-ai/docproc-be/database"
)

// initSchemaCmd represents the initSchema command
var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create the Weaviate chunk schema",
	Long: `Ensures the DocumentChunk class exists in Weaviate. With --reinit
the class is dropped and recreated, which deletes every stored vector.`,
	Run: func(cmd *cobra.Command, args []string) {
		reinit, _ := cmd.Flags().GetBool("reinit")

		cfg := loadConfigOrDie()

		weaviateDb, err := database.NewWeaviateStore(cfg.Weaviate)
		if err != nil {
			log.Fatalf("Failed to connect to Weaviate database: %v", err)
		}
		if reinit {
			if err := weaviateDb.ReInit(); err != nil {
				log.Fatalf("Failed to reinitialize Weaviate schema: %v", err)
			}
			fmt.Println("Schema dropped and recreated")
			return
		}
		fmt.Println("Schema ready")
	},
}

func init() {
	rootCmd.AddCommand(initSchemaCmd)

	// Here you will define your flags and configuration settings.

	// Cobra supports Persistent Flags which will work for this command
	// and all subcommands, e.g.:
	// initSchemaCmd.PersistentFlags().String("foo", "", "A help for foo")

	// Cobra supports local flags which will only run when this command
	// is called directly, e.g.:
	// initSchemaCmd.Flags().BoolP("toggle", "t", false, "Help message for toggle")
	initSchemaCmd.Flags().BoolP("reinit", "r", false, "Drop and recreate the schema")
}
