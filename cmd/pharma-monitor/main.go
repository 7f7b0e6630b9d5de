// Package main provides the administrator monitor.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pharmanotify/pharmanotify/internal/cli"
	"github.com/pharmanotify/pharmanotify/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to configuration file")
	socket := flag.String("socket", "", "Admin socket path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *socket == "" {
		*socket = cfg.Server.MonitorSocket
	}

	return cli.RunMonitor(*socket, os.Stdin, os.Stdout)
}
