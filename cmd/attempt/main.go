package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
