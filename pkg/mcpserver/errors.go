// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// errorPayload is the error shape surfaced to MCP callers.
type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// toolError renders a domain error as a tool error result. details may be
// nil; cost-limit errors always carry the estimate and limit figures.
func toolError(err error, details map[string]any) *mcp.CallToolResult {
	var costErr *omop.CostLimitError
	if errors.As(err, &costErr) {
		if details == nil {
			details = map[string]any{}
		}
		details["estimated_cost_usd"] = costErr.EstimatedUSD
		details["cost_limit_usd"] = costErr.LimitUSD
	}

	payload := errorPayload{
		Code:    omop.ErrorCode(err),
		Message: err.Error(),
		Details: details,
	}
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// sqlDetails builds the details map carrying SQL that was generated before
// a later pipeline step failed.
func sqlDetails(sql string) map[string]any {
	if sql == "" {
		return nil
	}
	return map[string]any{"sql": sql}
}
