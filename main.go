package main

import (
	"os"

	"github.com/smazurov/nvrnode/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
