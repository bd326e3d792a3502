// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package omop

// OMOP CDM v5.4 reference sets. These feed three places: the table
// allowlist default, the PHI column blocklist default, and the standardness
// flag reported by get_information_schema.

// StandardTables is the default table allowlist: the standardized clinical,
// vocabulary, and derived tables of CDM v5.4.
var StandardTables = []string{
	"person",
	"observation_period",
	"visit_occurrence",
	"visit_detail",
	"condition_occurrence",
	"drug_exposure",
	"procedure_occurrence",
	"device_exposure",
	"measurement",
	"observation",
	"death",
	"note",
	"note_nlp",
	"specimen",
	"fact_relationship",
	"location",
	"care_site",
	"provider",
	"payer_plan_period",
	"cost",
	"drug_era",
	"dose_era",
	"condition_era",
	"episode",
	"episode_event",
	"metadata",
	"cdm_source",
	"concept",
	"vocabulary",
	"domain",
	"concept_class",
	"concept_relationship",
	"relationship",
	"concept_synonym",
	"concept_ancestor",
	"source_to_concept_map",
	"drug_strength",
	"cohort",
	"cohort_definition",
}

// PHIBlockedColumns is the default column blocklist: the *_source_value
// identity columns that may carry identifiers from source systems, plus the
// person-level direct identifiers.
var PHIBlockedColumns = []string{
	"person_source_value",
	"gender_source_value",
	"race_source_value",
	"ethnicity_source_value",
	"condition_source_value",
	"condition_status_source_value",
	"drug_source_value",
	"route_source_value",
	"dose_unit_source_value",
	"procedure_source_value",
	"device_source_value",
	"measurement_source_value",
	"unit_source_value",
	"value_source_value",
	"observation_source_value",
	"visit_source_value",
	"admitted_from_source_value",
	"discharged_to_source_value",
	"cause_source_value",
	"death_cause_source_value",
	"provider_source_value",
	"specimen_source_value",
	"location_source_value",
}

// standardColumns maps the commonly queried tables to their CDM v5.4
// columns. get_information_schema flags live columns found here as standard.
var standardColumns = map[string]map[string]bool{
	"person": toSet(
		"person_id", "gender_concept_id", "year_of_birth", "month_of_birth",
		"day_of_birth", "birth_datetime", "race_concept_id",
		"ethnicity_concept_id", "location_id", "provider_id", "care_site_id",
		"person_source_value", "gender_source_value", "gender_source_concept_id",
		"race_source_value", "race_source_concept_id", "ethnicity_source_value",
		"ethnicity_source_concept_id",
	),
	"condition_occurrence": toSet(
		"condition_occurrence_id", "person_id", "condition_concept_id",
		"condition_start_date", "condition_start_datetime", "condition_end_date",
		"condition_end_datetime", "condition_type_concept_id",
		"condition_status_concept_id", "stop_reason", "provider_id",
		"visit_occurrence_id", "visit_detail_id", "condition_source_value",
		"condition_source_concept_id", "condition_status_source_value",
	),
	"drug_exposure": toSet(
		"drug_exposure_id", "person_id", "drug_concept_id",
		"drug_exposure_start_date", "drug_exposure_start_datetime",
		"drug_exposure_end_date", "drug_exposure_end_datetime",
		"verbatim_end_date", "drug_type_concept_id", "stop_reason", "refills",
		"quantity", "days_supply", "sig", "route_concept_id", "lot_number",
		"provider_id", "visit_occurrence_id", "visit_detail_id",
		"drug_source_value", "drug_source_concept_id", "route_source_value",
		"dose_unit_source_value",
	),
	"procedure_occurrence": toSet(
		"procedure_occurrence_id", "person_id", "procedure_concept_id",
		"procedure_date", "procedure_datetime", "procedure_end_date",
		"procedure_end_datetime", "procedure_type_concept_id",
		"modifier_concept_id", "quantity", "provider_id", "visit_occurrence_id",
		"visit_detail_id", "procedure_source_value",
		"procedure_source_concept_id", "modifier_source_value",
	),
	"measurement": toSet(
		"measurement_id", "person_id", "measurement_concept_id",
		"measurement_date", "measurement_datetime", "measurement_time",
		"measurement_type_concept_id", "operator_concept_id", "value_as_number",
		"value_as_concept_id", "unit_concept_id", "range_low", "range_high",
		"provider_id", "visit_occurrence_id", "visit_detail_id",
		"measurement_source_value", "measurement_source_concept_id",
		"unit_source_value", "unit_source_concept_id", "value_source_value",
	),
	"observation": toSet(
		"observation_id", "person_id", "observation_concept_id",
		"observation_date", "observation_datetime",
		"observation_type_concept_id", "value_as_number", "value_as_string",
		"value_as_concept_id", "qualifier_concept_id", "unit_concept_id",
		"provider_id", "visit_occurrence_id", "visit_detail_id",
		"observation_source_value", "observation_source_concept_id",
		"unit_source_value", "qualifier_source_value",
	),
	"visit_occurrence": toSet(
		"visit_occurrence_id", "person_id", "visit_concept_id",
		"visit_start_date", "visit_start_datetime", "visit_end_date",
		"visit_end_datetime", "visit_type_concept_id", "provider_id",
		"care_site_id", "visit_source_value", "visit_source_concept_id",
		"admitted_from_concept_id", "admitted_from_source_value",
		"discharged_to_concept_id", "discharged_to_source_value",
		"preceding_visit_occurrence_id",
	),
	"death": toSet(
		"person_id", "death_date", "death_datetime", "death_type_concept_id",
		"cause_concept_id", "cause_source_value", "cause_source_concept_id",
	),
	"observation_period": toSet(
		"observation_period_id", "person_id", "observation_period_start_date",
		"observation_period_end_date", "period_type_concept_id",
	),
}

func toSet(names ...string) map[string]bool {
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// IsStandardColumn reports whether column is a CDM v5.4 column of table.
// Unknown tables report false for every column.
func IsStandardColumn(table, column string) bool {
	return standardColumns[table][column]
}

// IsStandardTable reports whether table belongs to the CDM v5.4 set.
func IsStandardTable(table string) bool {
	for _, t := range StandardTables {
		if t == table {
			return true
		}
	}
	return false
}
