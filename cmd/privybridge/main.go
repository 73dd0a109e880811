// SPDX-FileCopyrightText: Copyright 2026 Lattice Computing, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entrypoint for the privybridge server.
package main

import (
	"os"

	"github.com/latticehq/privybridge/cmd/privybridge/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
