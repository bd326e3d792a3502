// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app builds the omop-mcp command tree.
package app

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clinmetrics/omop-mcp/pkg/backend/all"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/logger"
	"github.com/clinmetrics/omop-mcp/pkg/mcpserver"
	"github.com/clinmetrics/omop-mcp/pkg/vocabulary"
)

// NewRootCmd builds the root command with its transport flags.
func NewRootCmd() *cobra.Command {
	var (
		stdio      bool
		httpMode   bool
		port       int
		configPath string
	)

	cmd := &cobra.Command{
		Use:          "omop-mcp",
		Short:        "MCP server for safety-gated OMOP CDM queries",
		Long:         "omop-mcp serves concept discovery, cohort SQL generation, and guarded warehouse queries over the Model Context Protocol.",
		Version:      mcpserver.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stdio == httpMode {
				return errors.New("exactly one of --stdio or --http is required")
			}

			logger.Initialize()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}

			vocab, err := vocabulary.New(cfg)
			if err != nil {
				return err
			}
			registry := all.NewRegistry(cfg)
			defer func() {
				if err := registry.Close(); err != nil {
					logger.Warnf("Failed to close backends: %v", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcpserver.New(cfg, vocab, registry)
			if stdio {
				return srv.ServeStdio(ctx)
			}
			return srv.ServeHTTP(ctx)
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve MCP over standard streams")
	cmd.Flags().BoolVar(&httpMode, "http", false, "Serve MCP over streamable HTTP")
	cmd.Flags().IntVar(&port, "port", 4580, "HTTP port (with --http)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.MarkFlagsMutuallyExclusive("stdio", "http")

	if err := viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Warnf("Failed to bind debug flag: %v", err)
	}

	return cmd
}
