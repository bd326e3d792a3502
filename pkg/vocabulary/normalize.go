// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package vocabulary

import (
	"strings"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// conceptPayload is the upstream wire shape. The service has shipped two
// generations of field names (short and Id-suffixed camelCase), so both
// aliases are decoded and the first populated one wins.
type conceptPayload struct {
	ID        int64 `json:"id"`
	ConceptID int64 `json:"conceptId"`

	Name        string `json:"name"`
	ConceptName string `json:"conceptName"`

	Domain   string `json:"domain"`
	DomainID string `json:"domainId"`

	Vocabulary   string `json:"vocabulary"`
	VocabularyID string `json:"vocabularyId"`

	ConceptClass   string `json:"conceptClass"`
	ConceptClassID string `json:"conceptClassId"`

	StandardConcept string `json:"standardConcept"`

	Code        string `json:"code"`
	ConceptCode string `json:"conceptCode"`

	ValidStart    string  `json:"validStart"`
	ValidEnd      string  `json:"validEnd"`
	InvalidReason string  `json:"invalidReason"`
	Score         float64 `json:"score"`
}

// relationshipPayload is the upstream wire shape for one concept edge.
type relationshipPayload struct {
	SourceConceptID  int64  `json:"sourceConceptId"`
	TargetConceptID  int64  `json:"targetConceptId"`
	RelationshipID   string `json:"relationshipId"`
	RelationshipName string `json:"relationshipName"`
	ValidStart       string `json:"validStart"`
	ValidEnd         string `json:"validEnd"`
}

func firstNonZero(a, b int64) int64 {
	if a != 0 {
		return a
	}
	return b
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// normalizeStandard maps the upstream standardness marker to the tri-valued
// flag. A missing marker means non-standard, never an error.
func normalizeStandard(raw string) omop.StandardFlag {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "standard", "s":
		return omop.StandardConcept
	case "classification", "c":
		return omop.ClassificationConcept
	default:
		return omop.NonStandardConcept
	}
}

// toConcept collapses a wire payload into the canonical concept value.
func toConcept(p conceptPayload) omop.Concept {
	return omop.Concept{
		ID:            firstNonZero(p.ID, p.ConceptID),
		Name:          firstNonEmpty(p.Name, p.ConceptName),
		Domain:        omop.NormalizeDomain(firstNonEmpty(p.Domain, p.DomainID)),
		Vocabulary:    firstNonEmpty(p.Vocabulary, p.VocabularyID),
		ConceptClass:  firstNonEmpty(p.ConceptClass, p.ConceptClassID),
		Standard:      normalizeStandard(p.StandardConcept),
		Code:          firstNonEmpty(p.Code, p.ConceptCode),
		ValidStart:    p.ValidStart,
		ValidEnd:      p.ValidEnd,
		InvalidReason: p.InvalidReason,
		Score:         p.Score,
	}
}

// toRelationship collapses a wire payload into the canonical edge, filling
// the source id from the queried concept when the upstream omits it.
func toRelationship(p relationshipPayload, sourceID int64) omop.Relationship {
	src := p.SourceConceptID
	if src == 0 {
		src = sourceID
	}
	id := p.RelationshipID
	if id == "" {
		id = p.RelationshipName
	}
	return omop.Relationship{
		SourceConceptID: src,
		TargetConceptID: p.TargetConceptID,
		RelationshipID:  id,
		ValidStart:      p.ValidStart,
		ValidEnd:        p.ValidEnd,
	}
}
