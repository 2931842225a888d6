package main

import (
	"os"

	"github.com/i3lani/paywatch/cli/cmd"
	"github.com/i3lani/paywatch/cli/pkg/output"
)

func main() {
	if err := cmd.Execute(); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}
