// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package export serializes concept sets, query results, and cohort
// definitions for use outside the server.
//
// These are plain serializers over the domain value types; nothing here
// touches the safety pipeline or a warehouse.
package export

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Format selects the output encoding.
type Format string

// The supported output encodings.
const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV, FormatJSONL:
		return Format(s), nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q, want json, csv, or jsonl", omop.ErrInvalidRequest, s)
	}
}

// Concepts writes a concept set in the given format, gzip-compressed when
// compress is set.
func Concepts(w io.Writer, format Format, compress bool, concepts []omop.Concept) error {
	return withCompression(w, compress, func(w io.Writer) error {
		switch format {
		case FormatJSON:
			return writeJSON(w, concepts)
		case FormatJSONL:
			for _, c := range concepts {
				if err := json.NewEncoder(w).Encode(c); err != nil {
					return err
				}
			}
			return nil
		case FormatCSV:
			return conceptsCSV(w, concepts)
		default:
			return fmt.Errorf("%w: unknown export format %q", omop.ErrInvalidRequest, format)
		}
	})
}

// QueryRows writes executed query rows in the given format.
func QueryRows(w io.Writer, format Format, compress bool, rows []map[string]any) error {
	return withCompression(w, compress, func(w io.Writer) error {
		switch format {
		case FormatJSON:
			return writeJSON(w, rows)
		case FormatJSONL:
			for _, r := range rows {
				if err := json.NewEncoder(w).Encode(r); err != nil {
					return err
				}
			}
			return nil
		case FormatCSV:
			return rowsCSV(w, rows)
		default:
			return fmt.Errorf("%w: unknown export format %q", omop.ErrInvalidRequest, format)
		}
	})
}

// CohortDefinition writes a generated cohort as JSON, the only format that
// preserves its nested validation result.
func CohortDefinition(w io.Writer, compress bool, result *omop.CohortSQLResult) error {
	return withCompression(w, compress, func(w io.Writer) error {
		return writeJSON(w, result)
	})
}

// SQLFile writes bare SQL text.
func SQLFile(w io.Writer, compress bool, sql string) error {
	return withCompression(w, compress, func(w io.Writer) error {
		_, err := io.WriteString(w, sql+"\n")
		return err
	})
}

func withCompression(w io.Writer, compress bool, write func(io.Writer) error) error {
	if !compress {
		return write(w)
	}
	gz := gzip.NewWriter(w)
	if err := write(gz); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var conceptCSVHeader = []string{
	"concept_id", "concept_name", "domain", "vocabulary",
	"concept_class", "standard_concept", "concept_code",
}

func conceptsCSV(w io.Writer, concepts []omop.Concept) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(conceptCSVHeader); err != nil {
		return err
	}
	for _, c := range concepts {
		record := []string{
			strconv.FormatInt(c.ID, 10), c.Name, string(c.Domain),
			c.Vocabulary, c.ConceptClass, string(c.Standard), c.Code,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// rowsCSV writes a header from the sorted union of keys; missing cells are
// empty.
func rowsCSV(w io.Writer, rows []map[string]any) error {
	keys := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			keys[k] = true
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := make([]string, len(header))
		for i, k := range header {
			if v, ok := r[k]; ok && v != nil {
				record[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
