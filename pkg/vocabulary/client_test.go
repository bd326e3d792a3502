// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package vocabulary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		VocabularyBaseURL:    baseURL,
		VocabularyTimeoutSec: 5,
		VocabularyCacheSize:  100,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(testConfig(srv.URL))
	require.NoError(t, err)
	return c, srv
}

// searchFixture serves a fixed corpus of concepts with offset pagination.
func searchFixture(total int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var content []map[string]any
		for i := offset; i < total && i < offset+limit; i++ {
			content = append(content, map[string]any{
				"conceptId":       201826 + i,
				"conceptName":     fmt.Sprintf("Type 2 diabetes mellitus %d", i),
				"domainId":        "Condition",
				"vocabularyId":    "SNOMED",
				"standardConcept": "Standard",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":       content,
			"totalElements": total,
		})
	}
}

func TestSearchPagination(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, searchFixture(7))

	var all []omop.Concept
	offset := 0
	pages := 0
	for {
		page, err := c.Search(context.Background(), "diabetes", "Condition", "", false, 2, offset)
		require.NoError(t, err)
		all = append(all, page.Concepts...)
		pages++
		assert.EqualValues(t, 7, page.TotalCount)
		if page.NextOffset == nil {
			break
		}
		offset = *page.NextOffset
	}

	assert.Equal(t, 4, pages)
	require.Len(t, all, 7)
	assert.EqualValues(t, 201826, all[0].ID)
	assert.EqualValues(t, 201832, all[6].ID)
	for _, concept := range all {
		assert.True(t, concept.IsStandard())
	}
}

func TestSearchValidatesInput(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, searchFixture(0))

	_, err := c.Search(context.Background(), "   ", "", "", false, 10, 0)
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)

	_, err = c.Search(context.Background(), "diabetes", "", "", false, 10, -1)
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)
}

func TestSearchCachesResults(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		searchFixture(3)(w, r)
	}))

	for i := 0; i < 3; i++ {
		page, err := c.Search(context.Background(), "diabetes", "", "", false, 10, 0)
		require.NoError(t, err)
		assert.Len(t, page.Concepts, 3)
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestSearchCacheIsCaseSensitive(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		searchFixture(1)(w, r)
	}))

	// the query goes upstream verbatim, so case-different queries must not
	// share a cache entry
	for _, query := range []string{"Aspirin", "aspirin", "Aspirin"} {
		_, err := c.Search(context.Background(), query, "", "", false, 10, 0)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, hits.Load())
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		searchFixture(1)(w, r)
	}))

	page, err := c.Search(context.Background(), "metformin", "Drug", "", true, 10, 0)
	require.NoError(t, err)
	assert.Len(t, page.Concepts, 1)
	assert.EqualValues(t, 2, hits.Load())
}

func TestSearchUpstreamDown(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Search(context.Background(), "metformin", "", "", false, 10, 0)
	assert.ErrorIs(t, err, omop.ErrVocabularyUnavailable)
	assert.ErrorIs(t, err, omop.ErrVocabulary)
	assert.EqualValues(t, 3, hits.Load())
}

func TestGetConcept(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/concepts/201826", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":              201826,
			"name":            "Type 2 diabetes mellitus",
			"domain":          "Condition",
			"vocabulary":      "SNOMED",
			"conceptClass":    "Clinical Finding",
			"standardConcept": "S",
			"code":            "44054006",
		})
	}))

	concept, err := c.GetConcept(context.Background(), 201826)
	require.NoError(t, err)
	assert.EqualValues(t, 201826, concept.ID)
	assert.Equal(t, "Type 2 diabetes mellitus", concept.Name)
	assert.Equal(t, omop.DomainCondition, concept.Domain)
	assert.Equal(t, omop.StandardConcept, concept.Standard)
	assert.Equal(t, "44054006", concept.Code)
}

func TestGetConceptNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetConcept(context.Background(), 999999999)
	assert.ErrorIs(t, err, omop.ErrNotFound)
	assert.EqualValues(t, 1, hits.Load(), "not-found must not be retried")
}

func TestGetConceptMissingStandardFlag(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"conceptId":    44054006,
			"conceptName":  "Diabetes mellitus type 2",
			"domainId":     "Condition",
			"vocabularyId": "SNOMED",
		})
	}))

	concept, err := c.GetConcept(context.Background(), 44054006)
	require.NoError(t, err)
	assert.Equal(t, omop.NonStandardConcept, concept.Standard)
	assert.False(t, concept.IsStandard())
}

func TestGetRelationships(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/concepts/1503297/relationships", r.URL.Path)
		require.Equal(t, "Maps to", r.URL.Query().Get("relationshipId"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"targetConceptId": 1503327, "relationshipId": "Maps to"},
			},
		})
	}))

	rels, err := c.GetRelationships(context.Background(), 1503297, "Maps to")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.EqualValues(t, 1503297, rels[0].SourceConceptID, "source filled from queried concept")
	assert.EqualValues(t, 1503327, rels[0].TargetConceptID)
	assert.Equal(t, "Maps to", rels[0].RelationshipID)
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(""))
	assert.ErrorIs(t, err, omop.ErrInvalidRequest)
}
