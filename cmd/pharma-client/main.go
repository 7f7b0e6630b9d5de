// Package main provides the interactive pharmacy client.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

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
	addr := flag.String("addr", "", "Server address (overrides config)")
	name := flag.String("name", "", "Pharmacy name (prompted when omitted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *addr == "" {
		*addr = cfg.Server.ConnectAddr
	}

	pharmacyName := strings.TrimSpace(*name)
	if pharmacyName == "" {
		fmt.Print("pharmacy name: ")
		if _, err := fmt.Scanln(&pharmacyName); err != nil {
			return fmt.Errorf("reading pharmacy name: %w", err)
		}
	}

	return cli.RunClient(*addr, pharmacyName, os.Stdin, os.Stdout)
}
