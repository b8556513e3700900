package main

import (
	"os"

	"github.com/escrowline/walletcore/cmd/walletcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
