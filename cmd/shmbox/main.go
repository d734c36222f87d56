package main

import (
	"os"

	"github.com/srediag/shmbox/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
