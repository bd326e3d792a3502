// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package dialect

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenNumber
	tokenString
	tokenSymbol
)

// token is one lexical unit of a SQL statement. Comments are dropped during
// tokenization; quoted identifiers keep their body with the quote style
// recorded separately so translation can re-quote for the target dialect.
type token struct {
	kind  tokenKind
	text  string // body without surrounding quotes
	upper string // uppercase form for words, "" otherwise
	quote byte   // '`' or '"' for quoted identifiers
	pos   int
}

func (t token) isWord(upper string) bool {
	return t.kind == tokenWord && t.upper == upper
}

func (t token) isSymbol(s string) bool {
	return t.kind == tokenSymbol && t.text == s
}

// multi-byte operators, longest first.
var symbols = []string{"<=", ">=", "<>", "!=", "::", "||"}

func tokenize(sql string) ([]token, error) {
	var out []token
	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < n && sql[i+1] == '-':
			for i < n && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}
			i += end + 4
		case c == '\'':
			start := i
			i++
			for {
				if i >= n {
					return nil, fmt.Errorf("unterminated string literal at offset %d", start)
				}
				if sql[i] == '\'' {
					if i+1 < n && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			out = append(out, token{kind: tokenString, text: sql[start+1 : i-1], pos: start})
		case c == '"' || c == '`':
			start := i
			i++
			for i < n && sql[i] != c {
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", start)
			}
			out = append(out, token{kind: tokenQuotedIdent, text: sql[start+1 : i], quote: c, pos: start})
			i++
		case isDigit(c):
			start := i
			for i < n && (isDigit(sql[i]) || sql[i] == '.' || sql[i] == 'e' || sql[i] == 'E') {
				i++
			}
			out = append(out, token{kind: tokenNumber, text: sql[start:i], pos: start})
		case isWordStart(c):
			start := i
			for i < n && isWordPart(sql[i]) {
				i++
			}
			w := sql[start:i]
			out = append(out, token{kind: tokenWord, text: w, upper: strings.ToUpper(w), pos: start})
		default:
			matched := false
			for _, s := range symbols {
				if strings.HasPrefix(sql[i:], s) {
					out = append(out, token{kind: tokenSymbol, text: s, pos: i})
					i += len(s)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.ContainsRune("(),.;*=<>+-/[]", rune(c)) {
				out = append(out, token{kind: tokenSymbol, text: string(c), pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return out, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(c byte) bool {
	return c == '_' || c == '$' || unicode.IsLetter(rune(c))
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c)
}

// keywords the formatter uppercases. Identifiers colliding with these are
// expected to be quoted, matching warehouse behavior.
var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"ORDER": true, "HAVING": true, "LIMIT": true, "OFFSET": true, "WITH": true,
	"AS": true, "ON": true, "JOIN": true, "INNER": true, "LEFT": true,
	"RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true, "UNION": true,
	"ALL": true, "DISTINCT": true, "AND": true, "OR": true, "NOT": true,
	"IN": true, "IS": true, "NULL": true, "LIKE": true, "ILIKE": true,
	"BETWEEN": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "EXISTS": true, "ASC": true, "DESC": true, "OVER": true,
	"PARTITION": true, "QUALIFY": true, "CAST": true, "INTERVAL": true,
	"EXTRACT": true, "TRUE": true, "FALSE": true, "DAY": true, "MONTH": true,
	"YEAR": true, "USING": true, "UNNEST": true, "COALESCE": true,
}

// keywords that take a parenthesized argument list directly.
var funcKeywords = map[string]bool{
	"CAST": true, "EXTRACT": true, "COALESCE": true, "UNNEST": true,
}

// render reassembles tokens into canonical text: single spaces, uppercase
// keywords, dialect-appropriate identifier quoting.
func render(tokens []token, target string) string {
	quote := byte('"')
	if target == BigQuery {
		quote = '`'
	}
	var b strings.Builder
	for i, t := range tokens {
		text := t.text
		switch t.kind {
		case tokenWord:
			if keywords[t.upper] {
				text = t.upper
			}
		case tokenQuotedIdent:
			text = string(quote) + t.text + string(quote)
		case tokenString:
			text = "'" + t.text + "'"
		}
		if i > 0 && needsSpace(tokens[i-1], t) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	if prev.isSymbol("(") || prev.isSymbol(".") || prev.isSymbol("::") || prev.isSymbol("[") {
		return false
	}
	if cur.isSymbol(",") || cur.isSymbol(")") || cur.isSymbol(".") || cur.isSymbol("::") ||
		cur.isSymbol(";") || cur.isSymbol("]") {
		return false
	}
	// no space between a function name and its argument list; plain
	// keywords (IN, AND, AS, ...) keep the space before a paren
	if cur.isSymbol("(") && (prev.kind == tokenWord || prev.kind == tokenQuotedIdent) {
		return keywords[prev.upper] && !funcKeywords[prev.upper]
	}
	if cur.isSymbol("[") {
		return true
	}
	return true
}
