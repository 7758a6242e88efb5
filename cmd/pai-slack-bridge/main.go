// Package main is the entry point for pai-slack-bridge.
package main

import (
	"os"

	"github.com/andrewmyhre/pai-slack-bridge/cmd/pai-slack-bridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
