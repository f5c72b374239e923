package main

import (
	"os"

	"github.com/banka1/banking/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
