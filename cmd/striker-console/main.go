package main

import (
	"os"

	"github.com/clusterlabs/striker-console/cmd/striker-console/command"
)

func main() {
	if err := command.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
