// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"strings"

	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// MutationKeywords are the statement kinds every driver refuses,
// independent of the safety pipeline.
var MutationKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "TRUNCATE",
	"ALTER", "CREATE", "MERGE", "GRANT", "REVOKE",
}

// CheckReadOnly rejects sql unless it is a single SELECT or WITH...SELECT
// statement free of mutation keywords. The keyword scan runs first so a
// mutation statement is always a security violation, never a shape error.
// Matching is whole-word on the token stream, so string literals and quoted
// identifiers do not trigger it.
func CheckReadOnly(sql, dialectName string) error {
	for _, kw := range MutationKeywords {
		found, err := dialect.ContainsKeyword(sql, kw)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s statements are not permitted", omop.ErrSecurityViolation, kw)
		}
	}
	return dialect.ValidateSyntax(sql, dialectName)
}

// EnsureLimit appends a trailing LIMIT when sql carries none at the top
// level. A pre-existing limit is left untouched; enforcing the maximum is
// the safety pipeline's job.
func EnsureLimit(sql string, rowLimit int) (string, error) {
	has, _, err := dialect.HasTopLevelLimit(sql)
	if err != nil {
		return "", err
	}
	if has {
		return sql, nil
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(sql, " \t\n;"), rowLimit), nil
}
