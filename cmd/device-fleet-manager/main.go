package main

import (
	"os"

	"github.com/monorkin/device-fleet-manager/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
