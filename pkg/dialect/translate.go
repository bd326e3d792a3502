// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package dialect

import (
	"fmt"
	"strings"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// date-diff spellings per dialect. BigQuery puts the unit last and the end
// date first; Snowflake and DuckDB put the unit first; Postgres has no
// single function and is emitted per unit.
var dateDiffFuncs = map[string]string{
	BigQuery:  "DATE_DIFF",
	Snowflake: "DATEDIFF",
	DuckDB:    "DATE_DIFF",
}

var dateUnits = map[string]bool{"DAY": true, "MONTH": true, "YEAR": true}

// Translate transpiles sql from the source dialect to the target dialect
// and returns the canonical rendering. Constructs the target cannot express
// fail with omop.ErrDialect; nothing is silently dropped.
func Translate(sql, source, target string) (string, error) {
	if !Known(source) {
		return "", fmt.Errorf("%w: unknown source dialect %q", omop.ErrDialect, source)
	}
	if !Known(target) {
		return "", fmt.Errorf("%w: unknown target dialect %q", omop.ErrDialect, target)
	}
	if err := ValidateSyntax(sql, source); err != nil {
		return "", err
	}
	tokens, err := tokenize(sql)
	if err != nil {
		return "", fmt.Errorf("%w: %v", omop.ErrDialect, err)
	}
	tokens = trimTrailingSemicolon(tokens)

	if source == target {
		return render(tokens, target), nil
	}

	tokens, err = rewriteQuotedChains(tokens, target)
	if err != nil {
		return "", err
	}
	tokens, err = rewriteDateDiff(tokens, source, target)
	if err != nil {
		return "", err
	}
	tokens, err = rewriteUnnestIn(tokens, source)
	if err != nil {
		return "", err
	}
	tokens, err = rewriteFunctions(tokens, target)
	if err != nil {
		return "", err
	}
	if err := checkTargetCompat(tokens, target); err != nil {
		return "", err
	}
	return render(tokens, target), nil
}

// rewriteQuotedChains splits BigQuery backtick chains (`p.d.t`) into
// per-part quoted identifiers for double-quote dialects. The reverse
// direction needs no splitting; render re-quotes each part.
func rewriteQuotedChains(tokens []token, target string) ([]token, error) {
	if target == BigQuery {
		return tokens, nil
	}
	var out []token
	for _, t := range tokens {
		if t.kind == tokenQuotedIdent && t.quote == '`' && strings.Contains(t.text, ".") {
			parts := strings.Split(t.text, ".")
			for i, p := range parts {
				if i > 0 {
					out = append(out, token{kind: tokenSymbol, text: "."})
				}
				out = append(out, token{kind: tokenQuotedIdent, text: p, quote: '"'})
			}
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// dateDiffCall is one recognized date-diff invocation: the unit plus the
// start/end argument token runs.
type dateDiffCall struct {
	unit       string
	start, end []token
}

// rewriteDateDiff converts the source dialect's date-diff calls into the
// target's spelling, reordering arguments as needed.
func rewriteDateDiff(tokens []token, source, target string) ([]token, error) {
	srcFunc := dateDiffFuncs[source]
	if srcFunc == "" {
		// Postgres source: interval arithmetic passes through; it is either
		// portable or caught by checkTargetCompat.
		return tokens, nil
	}
	var out []token
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if !t.isWord(srcFunc) || i+1 >= len(tokens) || !tokens[i+1].isSymbol("(") {
			out = append(out, t)
			continue
		}
		args, end, err := splitCallArgs(tokens, i+1)
		if err != nil {
			return nil, err
		}
		if len(args) != 3 {
			return nil, fmt.Errorf("%w: %s expects 3 arguments, got %d", omop.ErrDialect, srcFunc, len(args))
		}
		call, err := normalizeDateDiffArgs(source, args)
		if err != nil {
			return nil, err
		}
		emitted, err := emitDateDiff(target, call)
		if err != nil {
			return nil, err
		}
		out = append(out, emitted...)
		i = end
	}
	return out, nil
}

// normalizeDateDiffArgs maps the source call's argument order onto
// (unit, start, end).
func normalizeDateDiffArgs(source string, args [][]token) (*dateDiffCall, error) {
	unitArg := func(ts []token) (string, error) {
		if len(ts) != 1 {
			return "", fmt.Errorf("%w: malformed date-diff unit", omop.ErrDialect)
		}
		var u string
		switch ts[0].kind {
		case tokenWord:
			u = ts[0].upper
		case tokenString:
			u = strings.ToUpper(ts[0].text)
		default:
			return "", fmt.Errorf("%w: malformed date-diff unit %q", omop.ErrDialect, ts[0].text)
		}
		if !dateUnits[u] {
			return "", fmt.Errorf("%w: unsupported date-diff unit %q", omop.ErrDialect, u)
		}
		return u, nil
	}
	switch source {
	case BigQuery: // DATE_DIFF(end, start, unit)
		u, err := unitArg(args[2])
		if err != nil {
			return nil, err
		}
		return &dateDiffCall{unit: u, start: args[1], end: args[0]}, nil
	case Snowflake: // DATEDIFF(unit, start, end)
		u, err := unitArg(args[0])
		if err != nil {
			return nil, err
		}
		return &dateDiffCall{unit: u, start: args[1], end: args[2]}, nil
	case DuckDB: // date_diff('unit', start, end)
		u, err := unitArg(args[0])
		if err != nil {
			return nil, err
		}
		return &dateDiffCall{unit: u, start: args[1], end: args[2]}, nil
	}
	return nil, fmt.Errorf("%w: no date-diff form for dialect %q", omop.ErrDialect, source)
}

func word(s string) token   { return token{kind: tokenWord, text: s, upper: strings.ToUpper(s)} }
func sym(s string) token    { return token{kind: tokenSymbol, text: s} }
func strLit(s string) token { return token{kind: tokenString, text: s} }

func emitDateDiff(target string, call *dateDiffCall) ([]token, error) {
	var out []token
	switch target {
	case BigQuery:
		out = append(out, word("DATE_DIFF"), sym("("))
		out = append(out, call.end...)
		out = append(out, sym(","))
		out = append(out, call.start...)
		out = append(out, sym(","), word(call.unit), sym(")"))
	case Snowflake:
		out = append(out, word("DATEDIFF"), sym("("), word(call.unit), sym(","))
		out = append(out, call.start...)
		out = append(out, sym(","))
		out = append(out, call.end...)
		out = append(out, sym(")"))
	case DuckDB:
		out = append(out, word("date_diff"), sym("("), strLit(strings.ToLower(call.unit)), sym(","))
		out = append(out, call.start...)
		out = append(out, sym(","))
		out = append(out, call.end...)
		out = append(out, sym(")"))
	case Postgres:
		switch call.unit {
		case "DAY":
			// (end::date - start::date)
			out = append(out, sym("("), sym("("))
			out = append(out, call.end...)
			out = append(out, sym(")"), sym("::"), word("date"), sym("-"), sym("("))
			out = append(out, call.start...)
			out = append(out, sym(")"), sym("::"), word("date"), sym(")"))
		case "MONTH":
			out = append(out, ageExtractTokens("YEAR", call.start, call.end)...)
			out = append(out, sym("*"), token{kind: tokenNumber, text: "12"}, sym("+"))
			out = append(out, ageExtractTokens("MONTH", call.start, call.end)...)
		case "YEAR":
			out = append(out, ageExtractTokens("YEAR", call.start, call.end)...)
		}
	default:
		return nil, fmt.Errorf("%w: no date-diff form for dialect %q", omop.ErrDialect, target)
	}
	return out, nil
}

// ageExtractTokens builds EXTRACT(unit FROM age(end, start)) for Postgres.
func ageExtractTokens(unit string, start, end []token) []token {
	out := []token{word("EXTRACT"), sym("("), word(unit), word("FROM"), word("age"), sym("(")}
	out = append(out, end...)
	out = append(out, sym(","))
	out = append(out, start...)
	out = append(out, sym(")"), sym(")"))
	return out
}

// splitCallArgs parses the argument list whose "(" is at openIdx and returns
// the top-level comma-separated argument token runs and the index of the
// closing paren.
func splitCallArgs(tokens []token, openIdx int) ([][]token, int, error) {
	depth := 0
	var args [][]token
	var cur []token
	for i := openIdx; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case t.isSymbol("("):
			depth++
			if depth > 1 {
				cur = append(cur, t)
			}
		case t.isSymbol(")"):
			depth--
			if depth == 0 {
				if len(cur) > 0 {
					args = append(args, cur)
				}
				return args, i, nil
			}
			cur = append(cur, t)
		case t.isSymbol(",") && depth == 1:
			args = append(args, cur)
			cur = nil
		default:
			cur = append(cur, t)
		}
	}
	return nil, 0, fmt.Errorf("%w: unterminated argument list", omop.ErrDialect)
}

// rewriteUnnestIn flattens BigQuery's IN UNNEST([a, b]) into a portable
// IN (a, b) list. Only applies when leaving BigQuery.
func rewriteUnnestIn(tokens []token, source string) ([]token, error) {
	if source != BigQuery {
		return tokens, nil
	}
	var out []token
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if !t.isWord("UNNEST") || i < 1 || !tokens[i-1].isWord("IN") {
			out = append(out, t)
			continue
		}
		// expect UNNEST ( [ items ] )
		if i+2 >= len(tokens) || !tokens[i+1].isSymbol("(") || !tokens[i+2].isSymbol("[") {
			return nil, fmt.Errorf("%w: unsupported UNNEST form", omop.ErrDialect)
		}
		j := i + 3
		items := []token{sym("(")}
		for j < len(tokens) && !tokens[j].isSymbol("]") {
			items = append(items, tokens[j])
			j++
		}
		if j+1 >= len(tokens) || !tokens[j+1].isSymbol(")") {
			return nil, fmt.Errorf("%w: unsupported UNNEST form", omop.ErrDialect)
		}
		items = append(items, sym(")"))
		out = append(out, items...)
		i = j + 1
	}
	return out, nil
}

// functionRenames maps dialect-proprietary function names onto the target's
// equivalent. A missing entry for a name the source used is a loud failure
// in checkTargetCompat, never a pass-through.
var functionRenames = map[string]map[string]string{
	"SAFE_CAST": {BigQuery: "SAFE_CAST", Snowflake: "TRY_CAST", DuckDB: "TRY_CAST"},
	"TRY_CAST":  {BigQuery: "SAFE_CAST", Snowflake: "TRY_CAST", DuckDB: "TRY_CAST"},
}

func rewriteFunctions(tokens []token, target string) ([]token, error) {
	var out []token
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.kind == tokenWord {
			if renames, ok := functionRenames[t.upper]; ok {
				renamed, ok := renames[target]
				if !ok {
					return nil, fmt.Errorf("%w: function %s has no %s equivalent", omop.ErrDialect, t.text, target)
				}
				out = append(out, word(renamed))
				continue
			}
			// CURRENT_DATE() is a call in BigQuery/Snowflake but not Postgres
			if t.upper == "CURRENT_DATE" && target == Postgres &&
				i+2 < len(tokens) && tokens[i+1].isSymbol("(") && tokens[i+2].isSymbol(")") {
				out = append(out, word("CURRENT_DATE"))
				i += 2
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// checkTargetCompat fails loudly on constructs the target dialect cannot
// express. This is the guard against silent drops.
func checkTargetCompat(tokens []token, target string) error {
	for _, t := range tokens {
		if t.isWord("QUALIFY") && !SupportsQualify(target) {
			return fmt.Errorf("%w: QUALIFY is not supported by %s; rewrite with a subquery", omop.ErrDialect, target)
		}
		if t.isSymbol("::") && target == BigQuery {
			return fmt.Errorf("%w: :: cast syntax is not supported by bigquery; use CAST", omop.ErrDialect)
		}
		if t.isSymbol("[") && target != BigQuery && target != DuckDB {
			return fmt.Errorf("%w: array literals are not supported by %s", omop.ErrDialect, target)
		}
		if t.isWord("ILIKE") && target == BigQuery {
			return fmt.Errorf("%w: ILIKE is not supported by bigquery; use LOWER() with LIKE", omop.ErrDialect)
		}
	}
	return nil
}
