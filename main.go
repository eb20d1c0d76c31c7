/*
Copyright © 2025 casefile-ai
*/
package main

import (
	"github.com/casefile-ai/docproc-be/cmd"
	"github.com/joho/godotenv"
)

func main() {
	cmd.Execute()
}

func init() {
	// .env is optional outside local development
	_ = godotenv.Load()
}
