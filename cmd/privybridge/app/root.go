// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app defines the privybridge CLI commands.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/latticehq/privybridge/pkg/logger"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "privybridge",
		Short: "OAuth bridge between MCP clients and the Privy identity provider",
		Long: `privybridge is an OAuth 2.1 authorization server that issues its own
bearer tokens to MCP clients after validating end-user identity with Privy,
and exposes the discover_connections tool over MCP.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}
