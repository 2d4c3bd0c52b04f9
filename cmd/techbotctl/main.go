// Package main is the entry point for the techbotctl operator CLI.
package main

import (
	"os"

	"techentry-bot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
