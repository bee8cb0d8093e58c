package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"perfmonitor/internal/app"
	"perfmonitor/monitor"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// main starts the relay service for one TOML config file.
// Params: CLI flags (-config, -validate, -version).
// Returns: process exit code by startup/run result.
func main() {
	var (
		configPath   = flag.String("config", "", "path to the TOML config file")
		validateOnly = flag.Bool("validate", false, "parse and validate the config, then exit")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("perfmonitor", version)
		return
	}

	if *validateOnly {
		if err := validateConfig(*configPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(2)
		}
		fmt.Println("configuration ok")
		return
	}

	service, err := app.NewService(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service init failed:", err.Error())
		os.Exit(1)
	}

	if err := service.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "service run failed:", err.Error())
		os.Exit(1)
	}
}

// validateConfig parses both config sections without starting anything.
// Params: config file path.
// Returns: first parse or validation error.
func validateConfig(path string) error {
	if _, err := monitor.LoadConfig(path); err != nil {
		return err
	}
	if _, err := app.LoadServerConfig(path); err != nil {
		return err
	}
	return nil
}
