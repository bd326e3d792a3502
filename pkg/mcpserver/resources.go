// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

const jsonMIME = "application/json"

// cursorPrefix heads the opaque pagination cursors handed out by search://.
const cursorPrefix = "offset:"

func (s *Server) registerResources() {
	s.mcp.AddResource(mcp.NewResource(
		"capabilities://",
		"Backend capabilities",
		mcp.WithResourceDescription("The registered warehouse backends, their dialects and feature sets, and the default backend."),
		mcp.WithMIMEType(jsonMIME),
	), s.handleCapabilitiesResource)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		"concept://{id}",
		"OMOP concept",
		mcp.WithTemplateDescription("One OMOP vocabulary concept by id."),
		mcp.WithTemplateMIMEType(jsonMIME),
	), s.handleConceptResource)

	s.mcp.AddResourceTemplate(mcp.NewResourceTemplate(
		"search://{?query,domain,vocabulary,standard_only,cursor,page_size}",
		"Concept search",
		mcp.WithTemplateDescription("Paginated concept search; follow next_cursor until it is absent."),
		mcp.WithTemplateMIMEType(jsonMIME),
	), s.handleSearchResource)
}

func (s *Server) handleCapabilitiesResource(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, map[string]any{
		"backends": s.backends.List(),
		"default":  s.backends.Default(),
	})
}

func (s *Server) handleConceptResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	raw := strings.TrimPrefix(req.Params.URI, "concept://")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: concept uri must carry an integer id, got %q", omop.ErrInvalidRequest, raw)
	}
	concept, err := s.vocab.GetConcept(ctx, id)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, concept)
}

func (s *Server) handleSearchResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	u, err := url.Parse(req.Params.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed search uri: %v", omop.ErrInvalidRequest, err)
	}
	params := u.Query()

	query := params.Get("query")
	if query == "" {
		return nil, fmt.Errorf("%w: search uri requires a query parameter", omop.ErrInvalidRequest)
	}
	domain := params.Get("domain")
	if domain != "" {
		if _, err := omop.ParseDomain(domain); err != nil {
			return nil, err
		}
	}
	standardOnly := false
	if raw := params.Get("standard_only"); raw != "" {
		standardOnly, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: standard_only must be a boolean, got %q", omop.ErrInvalidRequest, raw)
		}
	}
	pageSize := 20
	if raw := params.Get("page_size"); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil || pageSize < 1 || pageSize > 100 {
			return nil, fmt.Errorf("%w: page_size must be an integer within [1, 100], got %q", omop.ErrInvalidRequest, raw)
		}
	}
	offset, err := parseCursor(params.Get("cursor"))
	if err != nil {
		return nil, err
	}

	page, err := s.vocab.Search(ctx, query, domain, params.Get("vocabulary"), standardOnly, pageSize, offset)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"concepts":    page.Concepts,
		"total_count": page.TotalCount,
	}
	if page.NextOffset != nil {
		body["next_cursor"] = cursorPrefix + strconv.Itoa(*page.NextOffset)
	}
	return jsonContents(req.Params.URI, body)
}

// parseCursor decodes an opaque offset cursor. Empty means the first page.
func parseCursor(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	value, ok := strings.CutPrefix(raw, cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: malformed cursor %q", omop.ErrInvalidRequest, raw)
	}
	offset, err := strconv.Atoi(value)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("%w: malformed cursor %q", omop.ErrInvalidRequest, raw)
	}
	return offset, nil
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource body: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: jsonMIME, Text: string(data)},
	}, nil
}
