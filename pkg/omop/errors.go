// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package omop

import (
	"errors"
	"fmt"
)

// Domain errors shared across packages. These are the only error kinds the
// MCP layer surfaces to callers; everything else wraps one of them.
// Check with errors.Is().
var (
	// ErrInvalidRequest indicates a schema or bounds violation in a tool
	// argument, resource URI, cursor, or prompt argument.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound indicates a concept, table, or resource id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrVocabulary indicates an upstream vocabulary API failure.
	ErrVocabulary = errors.New("vocabulary error")

	// ErrVocabularyUnavailable indicates the vocabulary API is unreachable
	// or returned a server error after retries. Wraps ErrVocabulary.
	ErrVocabularyUnavailable = fmt.Errorf("%w: unavailable", ErrVocabulary)

	// ErrBackendUnavailable indicates a driver could not be constructed or
	// cannot reach its warehouse.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrSecurityViolation indicates a mutation statement, disallowed table,
	// blocked column, or a denied patient-list request.
	ErrSecurityViolation = errors.New("security violation")

	// ErrValidationFailed indicates the warehouse dry-run or EXPLAIN
	// rejected the SQL. The wrapping error carries the upstream reason.
	ErrValidationFailed = errors.New("validation failed")

	// ErrCostLimitExceeded indicates the estimated query cost is above the
	// configured cap. Use NewCostLimitError to carry the figures.
	ErrCostLimitExceeded = errors.New("cost limit exceeded")

	// ErrTimeout indicates an execution deadline was reached or the
	// vocabulary client exhausted its retries.
	ErrTimeout = errors.New("operation timed out")

	// ErrDialect indicates SQL could not be parsed or translated in the
	// requested dialect.
	ErrDialect = errors.New("dialect error")

	// ErrUnauthenticated indicates the bearer-token hook rejected the request.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized indicates the principal lacks permission for the request.
	ErrUnauthorized = errors.New("unauthorized")
)

// CostLimitError carries the estimate and the configured cap so callers can
// surface both in error details.
type CostLimitError struct {
	EstimatedUSD float64
	LimitUSD     float64
}

// NewCostLimitError builds a CostLimitError for the given estimate and cap.
func NewCostLimitError(estimated, limit float64) *CostLimitError {
	return &CostLimitError{EstimatedUSD: estimated, LimitUSD: limit}
}

func (e *CostLimitError) Error() string {
	return fmt.Sprintf("estimated cost $%.2f exceeds limit $%.2f", e.EstimatedUSD, e.LimitUSD)
}

// Is makes errors.Is(err, ErrCostLimitExceeded) hold for CostLimitError values.
func (*CostLimitError) Is(target error) bool {
	return target == ErrCostLimitExceeded
}

// ErrorCode maps a domain error to the short machine code surfaced to MCP
// callers. Unknown errors map to "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCostLimitExceeded):
		return "cost_limit_exceeded"
	case errors.Is(err, ErrSecurityViolation):
		return "security_violation"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrVocabularyUnavailable):
		return "vocabulary_unavailable"
	case errors.Is(err, ErrVocabulary):
		return "vocabulary_error"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrDialect):
		return "dialect_error"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal"
	}
}
