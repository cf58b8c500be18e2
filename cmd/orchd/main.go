// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/orchd/orchd/internal/app"
	"github.com/orchd/orchd/internal/config"
)

var (
	version = "0.9"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if showVersion {
		fmt.Printf("orchd %s\n", version)
		os.Exit(0)
	}

	if configPath == "" {
		found, err := config.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Debug:      debug,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "orchd init" command.
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	force := initFlags.Bool("force", false, "Overwrite an existing orchd.hjson")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: orchd init [options]

Create a starter orchd.hjson configuration file in the current
directory. The generated file is commented so every option is
discoverable.

Options:
  -h, -help    Show this help message
  -force       Overwrite an existing orchd.hjson`)
		return nil
	}

	const configName = "orchd.hjson"
	if _, err := os.Stat(configName); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", configName)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	projectName := filepath.Base(cwd)

	content := fmt.Sprintf(`{
  version: "1"

  project: {
    // Name shown in digests and logs.
    name: %q
    // Git repository this server supervises. No default is applied
    // when empty.
    repo_dir: ""
  }

  server: {
    host: "127.0.0.1"
    port: 7333
    // Either point tls_cert/tls_key at PEM files, or set
    // tls_tailscale: true to serve with a tailscale-issued cert.
    tls_cert: ""
    tls_key: ""
    tls_tailscale: false
  }

  store: {
    // SQLite database location. Defaults to .orchd/ next to this file.
    data_dir: ""
    db_file: "orchd.db"
  }

  worktree: {
    // Where orchestration worker worktrees are provisioned, relative
    // to the repository root.
    create_dir: ".worktrees"
  }

  profiles: {
    // Named launch recipes: sessions reference these by profileId.
    default: {
      tool: "codex"
      command: ["codex"]
      env: {}
    }
    claude: {
      tool: "claude"
      command: ["claude"]
      // api keeps ANTHROPIC_API_KEY in the child env; subscription
      // strips it.
      claude_auth_mode: "subscription"
    }
  }

  automation: {
    // inline surfaces worker questions to humans; orchestrator routes
    // them to the coordinating session.
    question_mode: "inline"
    steering_mode: "off"
    yolo_mode: false
    question_timeout_ms: 120000
    review_interval_ms: 0
  }

  auth: {
    pairing_ttl: "5m"
    pairing_max_attempts: 5
  }

  events: {
    history: {
      max_events: 10000
      max_age: "1h"
    }
  }

  watch: {
    // Directory holding command-tiers.json for hot-reloaded command
    // policy overrides. Empty disables the watcher.
    dir: ""
    debounce: "100ms"
  }
}
`, projectName)

	if err := os.WriteFile(configName, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", configName)
	return nil
}
