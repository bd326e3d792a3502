// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

func TestExtractBearer(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	_, err := extractBearer(r)
	assert.ErrorIs(t, err, omop.ErrUnauthenticated)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = extractBearer(r)
	assert.ErrorIs(t, err, omop.ErrUnauthenticated)

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, err := extractBearer(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestAnonymousMiddleware(t *testing.T) {
	t.Parallel()

	var subject string
	handler := AnonymousMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local", subject)
}

func TestSubjectFromContextWithoutClaims(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	assert.Empty(t, SubjectFromContext(r.Context()))

	_, ok := GetClaimsFromContext(r.Context())
	assert.False(t, ok)
}
