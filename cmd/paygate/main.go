package main

import (
	"os"

	"github.com/Must-be-Ash/x402-firecrawl/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
