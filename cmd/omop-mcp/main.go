// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command omop-mcp serves safety-gated OMOP CDM query tools over the Model
// Context Protocol.
package main

import (
	"os"

	"github.com/clinmetrics/omop-mcp/cmd/omop-mcp/app"
	"github.com/clinmetrics/omop-mcp/pkg/logger"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Unhandled panic: %v", r)
			os.Exit(2)
		}
	}()

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
