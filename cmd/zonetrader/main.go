package main

import (
	"os"

	"github.com/rustyeddy/zonetrader/cmd/zonetrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
