// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vocabulary is the client for the hosted OMOP vocabulary service.
//
// All calls retry transient upstream failures with exponential backoff and
// serve repeated lookups from an in-process LRU cache. Only successful
// responses are cached; every request stays within the configured per-call
// timeout, retries included.
package vocabulary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/logger"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// maxPageSize caps one search page; larger requests are clamped, not
// rejected.
const maxPageSize = 100

const maxRetries = 3

// SearchPage is one page of concept search results. NextOffset is nil on
// the final page.
type SearchPage struct {
	Concepts   []omop.Concept `json:"concepts"`
	TotalCount int64          `json:"total_count"`
	NextOffset *int           `json:"next_offset,omitempty"`
}

// Client talks to the vocabulary service.
type Client struct {
	base    *url.URL
	httpc   *http.Client
	cache   *lru.Cache[string, any]
	timeout time.Duration
}

// New builds a client from config. The base URL must be set; an unreachable
// service is a runtime condition, not a construction error.
func New(cfg *config.Config) (*Client, error) {
	if cfg.VocabularyBaseURL == "" {
		return nil, fmt.Errorf("%w: vocabulary_base_url is not configured", omop.ErrInvalidRequest)
	}
	base, err := url.Parse(cfg.VocabularyBaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid vocabulary_base_url: %v", omop.ErrInvalidRequest, err)
	}
	cache, err := lru.New[string, any](cfg.VocabularyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create vocabulary cache: %w", err)
	}
	return &Client{
		base:    base,
		httpc:   &http.Client{},
		cache:   cache,
		timeout: cfg.VocabularyTimeout(),
	}, nil
}

// Search finds concepts matching query. Domain, vocabulary, and
// standardOnly narrow the match; limit and offset page through results.
func (c *Client) Search(ctx context.Context, query, domain, vocabulary string, standardOnly bool, limit, offset int) (*SearchPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query must not be empty", omop.ErrInvalidRequest)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must be >= 0, got %d", omop.ErrInvalidRequest, offset)
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	if domain != "" {
		params.Set("domain", string(omop.NormalizeDomain(domain)))
	}
	if vocabulary != "" {
		params.Set("vocabulary", vocabulary)
	}
	if standardOnly {
		params.Set("standardConcept", "Standard")
	}

	// key on the request as sent; the upstream may be case-sensitive
	key := "search|" + params.Encode()
	if cached, ok := c.cache.Get(key); ok {
		return cached.(*SearchPage), nil
	}

	var payload struct {
		Content       []conceptPayload `json:"content"`
		TotalElements int64            `json:"totalElements"`
	}
	if err := c.getJSON(ctx, "/concepts", params, &payload); err != nil {
		return nil, err
	}

	concepts := make([]omop.Concept, 0, len(payload.Content))
	for _, p := range payload.Content {
		concepts = append(concepts, toConcept(p))
	}
	page := &SearchPage{Concepts: concepts, TotalCount: payload.TotalElements}
	if int64(offset+len(concepts)) < payload.TotalElements && len(concepts) > 0 {
		next := offset + len(concepts)
		page.NextOffset = &next
	}

	c.cache.Add(key, page)
	return page, nil
}

// GetConcept fetches one concept by id.
func (c *Client) GetConcept(ctx context.Context, id int64) (*omop.Concept, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: concept id must be positive, got %d", omop.ErrInvalidRequest, id)
	}
	key := "concept|" + strconv.FormatInt(id, 10)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(*omop.Concept), nil
	}

	var payload conceptPayload
	if err := c.getJSON(ctx, fmt.Sprintf("/concepts/%d", id), nil, &payload); err != nil {
		return nil, err
	}
	concept := toConcept(payload)
	if concept.ID == 0 {
		concept.ID = id
	}

	c.cache.Add(key, &concept)
	return &concept, nil
}

// GetRelationships fetches the edges of one concept, optionally filtered to
// a single relationship kind such as "Maps to".
func (c *Client) GetRelationships(ctx context.Context, id int64, relationship string) ([]omop.Relationship, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: concept id must be positive, got %d", omop.ErrInvalidRequest, id)
	}
	params := url.Values{}
	if relationship != "" {
		params.Set("relationshipId", relationship)
	}
	key := fmt.Sprintf("relationships|%d|%s", id, relationship)
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]omop.Relationship), nil
	}

	var payload struct {
		Content []relationshipPayload `json:"content"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/concepts/%d/relationships", id), params, &payload); err != nil {
		return nil, err
	}

	out := make([]omop.Relationship, 0, len(payload.Content))
	for _, p := range payload.Content {
		out = append(out, toRelationship(p, id))
	}

	c.cache.Add(key, out)
	return out, nil
}

// getJSON performs one GET with retries and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", omop.ErrNotFound, u.Path))
		case resp.StatusCode == http.StatusBadRequest:
			return nil, backoff.Permanent(fmt.Errorf("%w: vocabulary rejected request: %s", omop.ErrInvalidRequest, strings.TrimSpace(string(body))))
		default:
			return nil, fmt.Errorf("vocabulary returned status %d", resp.StatusCode)
		}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 100 * time.Millisecond
	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxRetries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugf("Vocabulary request failed, retrying in %s: %v", d, err)
		}),
	)
	if err != nil {
		return mapTransportError(err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", omop.ErrVocabulary, err)
	}
	return nil
}

// mapTransportError folds retry outcomes into the package sentinels.
func mapTransportError(err error) error {
	switch {
	case errors.Is(err, omop.ErrNotFound), errors.Is(err, omop.ErrInvalidRequest):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: vocabulary request timed out", omop.ErrTimeout)
	default:
		return fmt.Errorf("%w: %v", omop.ErrVocabularyUnavailable, err)
	}
}
