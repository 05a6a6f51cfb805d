// Copyright 2024 ShortFUSE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/redballoonsecurity/shortfuse/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tree over NFS",
	Long: `Starts an NFS endpoint backed by the configured tree.

Settings come from the config file (default ~/.shortfuse/config.yaml);
flags override individual values.

Examples:
  # In-memory tree on the default address
  shortfuse serve

  # Database-backed tree seeded from the current directory
  shortfuse serve --backend database --seed .`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveListen   string
	serveBackend  string
	serveDataFile string
	serveSeedDir  string
	serveLogLevel string
	serveConfig   string
)

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (host:port)")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "Tree backend: memory, database")
	serveCmd.Flags().StringVar(&serveDataFile, "data-file", "", "Content database path for the database backend")
	serveCmd.Flags().StringVar(&serveSeedDir, "seed", "", "Local directory copied into the tree at startup")
	serveCmd.Flags().StringVar(&serveLogLevel, "logging", "", "Log level: trace, debug, info, warn, off")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Config file path")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath := serveConfig
	if configPath == "" {
		configPath = daemon.SettingsPath()
	}
	cfg, err := daemon.LoadServeConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveBackend != "" {
		cfg.Backend = serveBackend
	}
	if serveDataFile != "" {
		cfg.DataFile = serveDataFile
	}
	if serveSeedDir != "" {
		cfg.SeedDir = serveSeedDir
	}
	if serveLogLevel != "" {
		cfg.LogLevel = serveLogLevel
	}

	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	server := daemon.NewServer(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("[serve] Received %s, shutting down", sig)
		server.Shutdown()
	}()

	return server.Start()
}

// setupLogging routes logs to stderr at the requested level, or discards
// them entirely.
func setupLogging(level string) error {
	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "off", "none", "":
		log.SetOutput(io.Discard)
		return nil
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	log.SetOutput(os.Stderr)
	return nil
}
