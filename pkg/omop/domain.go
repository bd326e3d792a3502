// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package omop

import "fmt"

// Domain is the OMOP partition a concept belongs to. For the queryable
// domains it also selects the CDM fact table.
type Domain string

// The enumerated domain set.
const (
	DomainCondition    Domain = "Condition"
	DomainDrug         Domain = "Drug"
	DomainProcedure    Domain = "Procedure"
	DomainMeasurement  Domain = "Measurement"
	DomainObservation  Domain = "Observation"
	DomainDevice       Domain = "Device"
	DomainVisit        Domain = "Visit"
	DomainDeath        Domain = "Death"
	DomainDemographics Domain = "Demographics"
	DomainOther        Domain = "Other"
)

var allDomains = map[Domain]bool{
	DomainCondition:    true,
	DomainDrug:         true,
	DomainProcedure:    true,
	DomainMeasurement:  true,
	DomainObservation:  true,
	DomainDevice:       true,
	DomainVisit:        true,
	DomainDeath:        true,
	DomainDemographics: true,
	DomainOther:        true,
}

// ParseDomain validates a domain string against the enumerated set.
// The empty string is rejected; callers wanting "any domain" should not call
// ParseDomain at all.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !allDomains[d] {
		return "", fmt.Errorf("%w: unknown domain %q", ErrInvalidRequest, s)
	}
	return d, nil
}

// NormalizeDomain maps an upstream domain tag onto the enumerated set,
// falling back to Other for tags outside it. Used by the vocabulary client;
// tool inputs go through ParseDomain instead.
func NormalizeDomain(s string) Domain {
	if allDomains[Domain(s)] {
		return Domain(s)
	}
	return DomainOther
}

// FactTable describes the CDM fact table backing a queryable domain.
type FactTable struct {
	Table         string
	ConceptColumn string
	DateColumn    string
}

var factTables = map[Domain]FactTable{
	DomainCondition: {
		Table:         "condition_occurrence",
		ConceptColumn: "condition_concept_id",
		DateColumn:    "condition_start_date",
	},
	DomainDrug: {
		Table:         "drug_exposure",
		ConceptColumn: "drug_concept_id",
		DateColumn:    "drug_exposure_start_date",
	},
	DomainProcedure: {
		Table:         "procedure_occurrence",
		ConceptColumn: "procedure_concept_id",
		DateColumn:    "procedure_date",
	},
	DomainMeasurement: {
		Table:         "measurement",
		ConceptColumn: "measurement_concept_id",
		DateColumn:    "measurement_date",
	},
	DomainObservation: {
		Table:         "observation",
		ConceptColumn: "observation_concept_id",
		DateColumn:    "observation_date",
	},
}

// FactTableFor returns the fact table for a queryable domain. Domains
// without a fact table (Visit, Death, Demographics, ...) are rejected.
func FactTableFor(d Domain) (FactTable, error) {
	ft, ok := factTables[d]
	if !ok {
		return FactTable{}, fmt.Errorf("%w: domain %q has no queryable fact table", ErrInvalidRequest, d)
	}
	return ft, nil
}

// QueryableDomains lists the domains that map to a fact table, in a stable
// order.
func QueryableDomains() []Domain {
	return []Domain{DomainCondition, DomainDrug, DomainProcedure, DomainMeasurement, DomainObservation}
}
