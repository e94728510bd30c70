// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeeper/gatekeeper/internal/config"
	"github.com/gatekeeper/gatekeeper/internal/logging"
	"github.com/gatekeeper/gatekeeper/internal/xdg"
)

const serviceName = "gatekeeper"

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the Gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - account and session service",
		Long: `Gatekeeper registers accounts, verifies email ownership with one-time
passcodes, issues and revokes JWT sessions, and exposes admin operations
over a JSON HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(envFile)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/gatekeeper/config.yaml when present)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment (missing file is ignored)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewReapCmd())
	cmd.AddCommand(NewMailerCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// loadConfig reads configuration for cmd and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		if p, ok := xdg.DefaultConfigFile(); ok {
			path = p
		}
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").With("field", "log.format").
			Errorf("log format must be 'json' or 'text', got %q", cfg.Log.Format)
	}
	logging.SetDefault(serviceName, version, cfg.Log.Format, level)
	slog.Debug("logging configured", "format", cfg.Log.Format, "level", level.String())
	return nil
}
