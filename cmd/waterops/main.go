package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"waterops/internal/app"
	"waterops/internal/clock"
	"waterops/internal/config"
)

// main parses flags and runs the telemetry service until a shutdown signal.
// Params: CLI flags (--config-file or --config-dir).
// Returns: process exit code by startup/run result.
func main() {
	os.Exit(run())
}

// run wires the service from CLI config and blocks until it stops.
// Params: none.
// Returns: 0 on clean shutdown, 2 on flag misuse, 1 on init/run failure.
func run() int {
	var (
		configFile = flag.String("config-file", "", "path to one TOML config file")
		configDir  = flag.String("config-dir", "", "path to directory with TOML config fragments")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		flag.Usage()
		return 2
	}

	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		return 1
	}

	if err := service.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		return 1
	}
	return 0
}
