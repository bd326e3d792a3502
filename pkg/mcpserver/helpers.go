// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinmetrics/omop-mcp/pkg/export"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// jsonResult wraps a value as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// int64SliceArg reads a required array argument of integer concept ids.
// JSON numbers arrive as float64; non-integral values are rejected.
func int64SliceArg(req mcp.CallToolRequest, key string) ([]int64, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: missing required argument %s", omop.ErrInvalidRequest, key)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of integers", omop.ErrInvalidRequest, key)
	}
	out := make([]int64, 0, len(list))
	for i, item := range list {
		switch v := item.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%w: %s[%d] is not an integer", omop.ErrInvalidRequest, key, i)
			}
			out = append(out, int64(v))
		case int64:
			out = append(out, v)
		case int:
			out = append(out, int64(v))
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s[%d] is not an integer", omop.ErrInvalidRequest, key, i)
			}
			out = append(out, n)
		default:
			return nil, fmt.Errorf("%w: %s[%d] has unexpected type %T", omop.ErrInvalidRequest, key, i, item)
		}
	}
	return out, nil
}

// formatArg parses the optional format argument, defaulting to JSON.
func formatArg(req mcp.CallToolRequest) (export.Format, error) {
	return export.ParseFormat(req.GetString("format", string(export.FormatJSON)))
}

// optionalDomainArg parses an optional domain argument, returning the empty
// domain when absent.
func optionalDomainArg(req mcp.CallToolRequest, key string) (omop.Domain, error) {
	raw := req.GetString(key, "")
	if raw == "" {
		return "", nil
	}
	return omop.ParseDomain(raw)
}
