// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver exposes the OMOP query tools, resources, and prompts
// over the Model Context Protocol.
//
// Two transports are supported: stdio for local single-client use and
// streamable HTTP for remote use. All handlers are reentrant; shared state
// is limited to the backend registry and the vocabulary cache, both safe
// for concurrent use.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/clinmetrics/omop-mcp/pkg/auth"
	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/logger"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
	"github.com/clinmetrics/omop-mcp/pkg/safety"
	"github.com/clinmetrics/omop-mcp/pkg/sqlgen"
	"github.com/clinmetrics/omop-mcp/pkg/vocabulary"
)

const (
	serverName = "omop-mcp"

	// Version is stamped into the MCP handshake and /health.
	Version = "0.4.0"
)

// VocabularyService is the subset of the vocabulary client the handlers
// use. Satisfied by *vocabulary.Client and by test doubles.
type VocabularyService interface {
	Search(ctx context.Context, query, domain, vocab string, standardOnly bool, limit, offset int) (*vocabulary.SearchPage, error)
	GetConcept(ctx context.Context, id int64) (*omop.Concept, error)
	GetRelationships(ctx context.Context, id int64, relationship string) ([]omop.Relationship, error)
}

// BackendProvider is the subset of the backend registry the handlers use.
type BackendProvider interface {
	Get(ctx context.Context, name string) (backend.Driver, error)
	List() []omop.BackendCapability
	Default() string
}

// Server is the MCP server over one configured deployment.
type Server struct {
	cfg       *config.Config
	vocab     VocabularyService
	backends  BackendProvider
	generator *sqlgen.Generator
	pipeline  *safety.Pipeline
	mcp       *server.MCPServer
}

// New assembles the server and registers every tool, resource, and prompt.
func New(cfg *config.Config, vocab VocabularyService, backends BackendProvider) *Server {
	s := &Server{
		cfg:       cfg,
		vocab:     vocab,
		backends:  backends,
		generator: sqlgen.New(cfg),
		pipeline:  safety.New(cfg),
	}
	s.mcp = server.NewMCPServer(serverName, Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// ServeStdio serves MCP over standard streams until the client disconnects.
// Logs go to stderr; stdout carries only protocol frames.
func (s *Server) ServeStdio(_ context.Context) error {
	logger.Infof("Starting %s %s on stdio, default backend %s", serverName, Version, s.backends.Default())
	return server.ServeStdio(s.mcp)
}

// ServeHTTP serves MCP over streamable HTTP until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ServeHTTP(ctx context.Context) error {
	authMiddleware := auth.AnonymousMiddleware
	if s.cfg.OAuthIssuer != "" {
		validator, err := auth.NewTokenValidator(ctx, s.cfg.OAuthIssuer, s.cfg.OAuthAudience)
		if err != nil {
			return err
		}
		authMiddleware = validator.Middleware
	}

	streamable := server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath("/mcp"),
		server.WithHTTPContextFunc(propagateClaims),
	)

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Handle("/mcp", authMiddleware(streamable))

	addr := fmt.Sprintf("%s:%d", s.cfg.HTTPHost, s.cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("Starting %s %s on http://%s/mcp, default backend %s", serverName, Version, addr, s.backends.Default())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// propagateClaims carries verified bearer claims from the HTTP request into
// the MCP handler context.
func propagateClaims(ctx context.Context, r *http.Request) context.Context {
	if claims, ok := auth.GetClaimsFromContext(r.Context()); ok {
		return context.WithValue(ctx, auth.ClaimsContextKey{}, claims)
	}
	return ctx
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": Version,
		"backend": s.backends.Default(),
	})
}
