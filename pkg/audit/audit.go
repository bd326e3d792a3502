// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audit records one structured event per tool invocation.
//
// Events go to the structured log; there is no separate sink. SQL text is
// recorded, result rows never are.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinmetrics/omop-mcp/pkg/logger"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Event is one tool invocation from the caller's perspective.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Tool    string    `json:"tool"`
	Backend string    `json:"backend,omitempty"`
	Subject string    `json:"subject,omitempty"`
	SQL     string    `json:"sql,omitempty"`

	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Begin opens an event for the named tool.
func Begin(tool string) *Event {
	return &Event{
		ID:   uuid.NewString(),
		Time: time.Now().UTC(),
		Tool: tool,
	}
}

// End closes the event with the invocation's outcome and emits it. A nil
// err records success; otherwise the outcome is the error's machine code.
func (e *Event) End(err error) {
	e.ElapsedMS = time.Since(e.Time).Milliseconds()
	if err == nil {
		e.Outcome = "success"
	} else {
		e.Outcome = omop.ErrorCode(err)
		e.Error = err.Error()
	}
	logger.Infow("audit",
		"id", e.ID,
		"tool", e.Tool,
		"backend", e.Backend,
		"subject", e.Subject,
		"outcome", e.Outcome,
		"error", e.Error,
		"elapsed_ms", e.ElapsedMS,
	)
}
