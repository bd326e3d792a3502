// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package omop defines the domain value types shared by every layer of the
// server: vocabulary concepts and relationships, query and validation
// results, backend capabilities, and the OMOP CDM reference sets.
//
// All types here are plain values owned by the request that produced them.
// Nothing in this package performs I/O.
package omop

import "time"

// StandardFlag is the tri-valued standardness of a concept.
type StandardFlag string

// Standardness values as designated by the OMOP vocabularies.
const (
	StandardConcept       StandardFlag = "standard"
	ClassificationConcept StandardFlag = "classification"
	NonStandardConcept    StandardFlag = "non-standard"
)

// Concept is one immutable OMOP vocabulary entry.
type Concept struct {
	ID            int64        `json:"concept_id"`
	Name          string       `json:"concept_name"`
	Domain        Domain       `json:"domain"`
	Vocabulary    string       `json:"vocabulary"`
	ConceptClass  string       `json:"concept_class,omitempty"`
	Standard      StandardFlag `json:"standard_concept"`
	Code          string       `json:"concept_code,omitempty"`
	ValidStart    string       `json:"valid_start_date,omitempty"`
	ValidEnd      string       `json:"valid_end_date,omitempty"`
	InvalidReason string       `json:"invalid_reason,omitempty"`
	Score         float64      `json:"score,omitempty"`
}

// IsStandard reports whether the concept is a standard concept.
func (c Concept) IsStandard() bool {
	return c.Standard == StandardConcept
}

// Relationship is a directed edge between two concepts.
type Relationship struct {
	SourceConceptID int64  `json:"source_concept_id"`
	TargetConceptID int64  `json:"target_concept_id"`
	RelationshipID  string `json:"relationship_id"`
	ValidStart      string `json:"valid_start_date,omitempty"`
	ValidEnd        string `json:"valid_end_date,omitempty"`
}

// ConceptDiscoveryResult is the envelope returned by discover_concepts.
// StandardConcepts and ConceptIDs are derived from Concepts and must stay
// consistent with it.
type ConceptDiscoveryResult struct {
	Query            string            `json:"query"`
	Concepts         []Concept         `json:"concepts"`
	StandardConcepts []Concept         `json:"standard_concepts"`
	ConceptIDs       []int64           `json:"concept_ids"`
	Metadata         map[string]string `json:"metadata"`
}

// NewConceptDiscoveryResult derives the standard-only and id projections
// from the full concept list.
func NewConceptDiscoveryResult(query string, concepts []Concept, metadata map[string]string) *ConceptDiscoveryResult {
	standard := make([]Concept, 0, len(concepts))
	ids := make([]int64, 0, len(concepts))
	for _, c := range concepts {
		ids = append(ids, c.ID)
		if c.IsStandard() {
			standard = append(standard, c)
		}
	}
	return &ConceptDiscoveryResult{
		Query:            query,
		Concepts:         concepts,
		StandardConcepts: standard,
		ConceptIDs:       ids,
		Metadata:         metadata,
	}
}

// SQLValidationResult is the outcome of a dry-run or EXPLAIN.
// Backends without dry-run pricing report zero cost and may report zero bytes.
type SQLValidationResult struct {
	Valid            bool    `json:"valid"`
	Error            string  `json:"error,omitempty"`
	BytesProcessed   int64   `json:"bytes_processed"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// CohortSQLResult is returned by generate_cohort_sql. It never carries rows;
// cohort SQL is generated and optionally validated, not executed.
type CohortSQLResult struct {
	SQL                  string               `json:"sql"`
	Validation           *SQLValidationResult `json:"validation,omitempty"`
	ExposureConceptCount int                  `json:"exposure_concept_count"`
	OutcomeConceptCount  int                  `json:"outcome_concept_count"`
	Backend              string               `json:"backend"`
	Dialect              string               `json:"dialect"`
	GeneratedAt          time.Time            `json:"generated_at"`
}

// QueryResult is the uniform envelope for query_omop and select_query.
// Rows is nil when execution was not requested; it is capped to the
// effective row limit.
type QueryResult struct {
	SQL              string           `json:"sql"`
	Rows             []map[string]any `json:"rows,omitempty"`
	RowCount         int              `json:"row_count"`
	BytesProcessed   int64            `json:"bytes_processed"`
	EstimatedCostUSD float64          `json:"estimated_cost_usd"`
	Backend          string           `json:"backend"`
	Dialect          string           `json:"dialect"`
	ElapsedMS        int64            `json:"elapsed_ms"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// Backend feature flags.
const (
	FeatureDryRun       = "dry_run"
	FeatureCostEstimate = "cost_estimate"
	FeatureExecute      = "execute"
	FeatureExplain      = "explain"
	FeatureTranslate    = "translate"
	FeatureLocal        = "local"
)

// Backend status tags.
const (
	StatusLive       = "live"
	StatusBeta       = "beta"
	StatusDeprecated = "deprecated"
)

// BackendCapability describes one registered warehouse backend.
type BackendCapability struct {
	Name     string   `json:"name"`
	Dialect  string   `json:"dialect"`
	Features []string `json:"features"`
	Status   string   `json:"status"`
}
