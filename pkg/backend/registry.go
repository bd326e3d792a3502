// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// Factory constructs a driver from config. Registered per backend name so
// the registry stays free of driver package imports going the wrong way.
type Factory func(ctx context.Context, cfg *config.Config) (Driver, error)

// capability rows are static per backend; only construction is lazy.
var capabilities = map[string]omop.BackendCapability{
	config.BackendBigQuery: {
		Name:    config.BackendBigQuery,
		Dialect: dialect.BigQuery,
		Features: []string{
			omop.FeatureDryRun, omop.FeatureCostEstimate,
			omop.FeatureExecute, omop.FeatureTranslate,
		},
		Status: omop.StatusLive,
	},
	config.BackendSnowflake: {
		Name:    config.BackendSnowflake,
		Dialect: dialect.Snowflake,
		Features: []string{
			omop.FeatureExplain, omop.FeatureExecute, omop.FeatureTranslate,
		},
		Status: omop.StatusLive,
	},
	config.BackendDuckDB: {
		Name:    config.BackendDuckDB,
		Dialect: dialect.DuckDB,
		Features: []string{
			omop.FeatureExplain, omop.FeatureExecute,
			omop.FeatureTranslate, omop.FeatureLocal,
		},
		Status: omop.StatusLive,
	},
	config.BackendPostgres: {
		Name:    config.BackendPostgres,
		Dialect: dialect.Postgres,
		Features: []string{
			omop.FeatureExplain, omop.FeatureExecute, omop.FeatureTranslate,
		},
		Status: omop.StatusBeta,
	},
}

// Registry maps backend names to lazily constructed driver singletons.
// Immutable after construction apart from the driver map, which is guarded
// by the mutex.
type Registry struct {
	cfg       *config.Config
	factories map[string]Factory

	mu      sync.Mutex
	drivers map[string]Driver
}

// NewRegistry builds a registry over the given factories. Construction is
// idempotent and performs no I/O; drivers are built on first Get.
func NewRegistry(cfg *config.Config, factories map[string]Factory) *Registry {
	return &Registry{
		cfg:       cfg,
		factories: factories,
		drivers:   make(map[string]Driver),
	}
}

// Get returns the driver for name, constructing it on first use.
func (r *Registry) Get(ctx context.Context, name string) (Driver, error) {
	if name == "" {
		name = r.cfg.BackendType
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", omop.ErrNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.drivers[name]; ok {
		return d, nil
	}
	d, err := factory(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", omop.ErrBackendUnavailable, name, err)
	}
	r.drivers[name] = d
	return d, nil
}

// List yields the capability records of every registered backend in name
// order.
func (r *Registry) List() []omop.BackendCapability {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]omop.BackendCapability, 0, len(names))
	for _, name := range names {
		if c, ok := capabilities[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Default returns the configured default backend name.
func (r *Registry) Default() string {
	return r.cfg.BackendType
}

// Close shuts down every constructed driver.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, d := range r.drivers {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close backend %s: %w", name, err)
		}
		delete(r.drivers, name)
	}
	return firstErr
}
