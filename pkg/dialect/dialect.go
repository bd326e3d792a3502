// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package dialect validates, formats, inspects, and transpiles SQL across
// the four supported warehouse dialects.
//
// The engine is a shared tokenizer plus per-dialect rewrite rules covering
// the OMOP-typical subset: CTEs, window functions, QUALIFY, date arithmetic,
// IN/UNNEST lists. Translation is best-effort but never silent: a construct
// the target dialect cannot express fails with omop.ErrDialect instead of
// being dropped.
package dialect

import (
	"fmt"
	"strings"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Supported dialect names.
const (
	BigQuery  = "bigquery"
	Snowflake = "snowflake"
	DuckDB    = "duckdb"
	Postgres  = "postgres"
)

// Known reports whether name is a supported dialect.
func Known(name string) bool {
	switch name {
	case BigQuery, Snowflake, DuckDB, Postgres:
		return true
	}
	return false
}

// SupportsQualify reports whether the dialect accepts the QUALIFY clause.
func SupportsQualify(name string) bool {
	switch name {
	case BigQuery, Snowflake, DuckDB:
		return true
	}
	return false
}

// ValidateSyntax checks that sql is a single, well-formed, SELECT-shaped
// statement in the given dialect. It is a structural check, not a full
// grammar: warehouses do the authoritative validation via dry-run/EXPLAIN.
func ValidateSyntax(sql, dialectName string) error {
	if !Known(dialectName) {
		return fmt.Errorf("%w: unknown dialect %q", omop.ErrDialect, dialectName)
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return fmt.Errorf("%w: %v", omop.ErrDialect, err)
	}
	tokens = trimTrailingSemicolon(tokens)
	if len(tokens) == 0 {
		return fmt.Errorf("%w: empty statement", omop.ErrDialect)
	}
	depth := 0
	for _, t := range tokens {
		switch {
		case t.isSymbol("("):
			depth++
		case t.isSymbol(")"):
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced parentheses at offset %d", omop.ErrDialect, t.pos)
			}
		case t.isSymbol(";"):
			return fmt.Errorf("%w: multiple statements are not allowed", omop.ErrDialect)
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced parentheses", omop.ErrDialect)
	}
	first := tokens[0]
	if !first.isWord("SELECT") && !first.isWord("WITH") {
		return fmt.Errorf("%w: statement must start with SELECT or WITH, got %q", omop.ErrDialect, first.text)
	}
	return nil
}

// Format returns the canonical single-line rendering of sql in the dialect:
// collapsed whitespace, uppercased keywords, dialect identifier quoting.
func Format(sql, dialectName string) (string, error) {
	if !Known(dialectName) {
		return "", fmt.Errorf("%w: unknown dialect %q", omop.ErrDialect, dialectName)
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return "", fmt.Errorf("%w: %v", omop.ErrDialect, err)
	}
	return render(trimTrailingSemicolon(tokens), dialectName), nil
}

// ExtractTables returns the base names of tables referenced by sql, in
// first-reference order, excluding CTE names. Qualified names report only
// the final component, lowercased and unquoted.
func ExtractTables(sql, dialectName string) ([]string, error) {
	if !Known(dialectName) {
		return nil, fmt.Errorf("%w: unknown dialect %q", omop.ErrDialect, dialectName)
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", omop.ErrDialect, err)
	}
	ctes := cteNames(tokens)

	var out []string
	seen := map[string]bool{}
	for i := 0; i < len(tokens); i++ {
		if !isTableIntro(tokens, i) {
			continue
		}
		j := i + 1
		for j < len(tokens) {
			if tokens[j].isSymbol("(") {
				break // subquery or UNNEST
			}
			name, next := readQualifiedName(tokens, j)
			if name == "" {
				break
			}
			base := strings.ToLower(lastComponent(name))
			if !ctes[base] && !seen[base] {
				seen[base] = true
				out = append(out, base)
			}
			j = next
			// skip optional alias
			if j < len(tokens) && tokens[j].isWord("AS") {
				j++
			}
			if j < len(tokens) && tokens[j].kind == tokenWord && !keywords[tokens[j].upper] {
				j++
			}
			if j < len(tokens) && tokens[j].isSymbol(",") {
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return out, nil
}

// ExtractColumns returns a conservative superset of the column identifiers
// referenced by sql: every identifier that is not a table reference, CTE
// name, alias introduction, function name, or keyword. For qualified
// references only the final component is reported. Used by the PHI gate, so
// over-reporting is acceptable and under-reporting is not.
func ExtractColumns(sql, dialectName string) ([]string, error) {
	if !Known(dialectName) {
		return nil, fmt.Errorf("%w: unknown dialect %q", omop.ErrDialect, dialectName)
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", omop.ErrDialect, err)
	}
	ctes := cteNames(tokens)

	var out []string
	seen := map[string]bool{}
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.kind != tokenWord && t.kind != tokenQuotedIdent {
			continue
		}
		if t.kind == tokenWord && keywords[t.upper] {
			continue
		}
		// function call
		if i+1 < len(tokens) && tokens[i+1].isSymbol("(") {
			continue
		}
		// table position: identifier chain straight after FROM/JOIN/etc.
		if i > 0 && isTableIntro(tokens, i-1) {
			i = skipQualifiedName(tokens, i) - 1
			continue
		}
		// alias introduction: SELECT x AS alias
		if i > 0 && tokens[i-1].isWord("AS") {
			continue
		}
		// middle of a qualified chain: only the final component counts
		if i+1 < len(tokens) && tokens[i+1].isSymbol(".") {
			continue
		}
		name := strings.ToLower(unquoted(t))
		if ctes[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// HasTopLevelLimit reports whether sql carries a LIMIT clause outside any
// subquery, and its value when the limit is a plain literal.
func HasTopLevelLimit(sql string) (bool, int64, error) {
	tokens, err := tokenize(sql)
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", omop.ErrDialect, err)
	}
	tokens = trimTrailingSemicolon(tokens)
	depth := 0
	for i, t := range tokens {
		switch {
		case t.isSymbol("("):
			depth++
		case t.isSymbol(")"):
			depth--
		case depth == 0 && t.isWord("LIMIT"):
			if i+1 < len(tokens) && tokens[i+1].kind == tokenNumber {
				var v int64
				if _, err := fmt.Sscanf(tokens[i+1].text, "%d", &v); err == nil {
					return true, v, nil
				}
			}
			return true, 0, nil
		}
	}
	return false, 0, nil
}

// ContainsKeyword reports whether sql contains the keyword as a whole word
// outside strings, comments, and quoted identifiers.
func ContainsKeyword(sql, keyword string) (bool, error) {
	tokens, err := tokenize(sql)
	if err != nil {
		return false, fmt.Errorf("%w: %v", omop.ErrDialect, err)
	}
	upper := strings.ToUpper(keyword)
	for _, t := range tokens {
		if t.isWord(upper) {
			return true, nil
		}
	}
	return false, nil
}

func trimTrailingSemicolon(tokens []token) []token {
	for len(tokens) > 0 && tokens[len(tokens)-1].isSymbol(";") {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// isTableIntro reports whether the token at i introduces a table reference.
func isTableIntro(tokens []token, i int) bool {
	if i < 0 || i >= len(tokens) {
		return false
	}
	switch tokens[i].upper {
	case "FROM", "JOIN", "INTO", "UPDATE", "TABLE":
		return tokens[i].kind == tokenWord
	}
	return false
}

// readQualifiedName reads an identifier chain (a, a.b, a.b.c or a quoted
// form) starting at i. Returns the dotted raw name and the index after it,
// or "" when i is not an identifier.
func readQualifiedName(tokens []token, i int) (string, int) {
	if i >= len(tokens) {
		return "", i
	}
	t := tokens[i]
	if t.kind != tokenWord && t.kind != tokenQuotedIdent {
		return "", i
	}
	if t.kind == tokenWord && keywords[t.upper] {
		return "", i
	}
	name := unquoted(t)
	j := i + 1
	for j+1 < len(tokens) && tokens[j].isSymbol(".") &&
		(tokens[j+1].kind == tokenWord || tokens[j+1].kind == tokenQuotedIdent) {
		name += "." + unquoted(tokens[j+1])
		j += 2
	}
	return name, j
}

func skipQualifiedName(tokens []token, i int) int {
	_, next := readQualifiedName(tokens, i)
	if next == i {
		return i + 1
	}
	return next
}

// unquoted returns the identifier body. BigQuery-style quoted chains
// (`p.d.t`) keep their dots; lastComponent handles both forms.
func unquoted(t token) string {
	return t.text
}

func lastComponent(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// cteNames collects names bound by WITH ... AS ( ... ) clauses.
func cteNames(tokens []token) map[string]bool {
	out := map[string]bool{}
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.kind != tokenWord && t.kind != tokenQuotedIdent {
			continue
		}
		if t.kind == tokenWord && keywords[t.upper] {
			continue
		}
		j := i + 1
		// optional column list: name (a, b) AS (...)
		if j < len(tokens) && tokens[j].isSymbol("(") {
			depth := 0
			for ; j < len(tokens); j++ {
				if tokens[j].isSymbol("(") {
					depth++
				} else if tokens[j].isSymbol(")") {
					depth--
					if depth == 0 {
						j++
						break
					}
				}
			}
		}
		if j+1 < len(tokens) && tokens[j].isWord("AS") && tokens[j+1].isSymbol("(") {
			out[strings.ToLower(unquoted(t))] = true
		}
	}
	return out
}
