package main

import (
	"fmt"
	"os"

	"termclaw/cmd/termclaw/commands"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
