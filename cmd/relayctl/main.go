package main

import (
	"fmt"
	"os"

	"github.com/kretoffer/encode-now-backend/cmd/relayctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
