// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bigquery implements the warehouse driver for Google BigQuery.
//
// Validation uses native dry-run jobs, which price the query from bytes
// processed; execution reads through the iterator API with context
// cancellation.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/clinmetrics/omop-mcp/pkg/backend"
	"github.com/clinmetrics/omop-mcp/pkg/config"
	"github.com/clinmetrics/omop-mcp/pkg/dialect"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

const bytesPerTB = float64(1 << 40)

// Driver is the BigQuery backend.
type Driver struct {
	client     *bq.Client
	project    string
	dataset    string
	pricePerTB float64
}

// New connects a BigQuery driver from config. The client performs no I/O
// until the first job, so construction is cheap.
func New(ctx context.Context, cfg *config.Config) (backend.Driver, error) {
	if cfg.BigQuery.Project == "" || cfg.BigQuery.Dataset == "" {
		return nil, errors.New("bigquery backend requires project and dataset")
	}
	var opts []option.ClientOption
	if cfg.BigQuery.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.BigQuery.CredentialsFile))
	}
	client, err := bq.NewClient(ctx, cfg.BigQuery.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return &Driver{
		client:     client,
		project:    cfg.BigQuery.Project,
		dataset:    cfg.BigQuery.Dataset,
		pricePerTB: cfg.BigQueryPricePerTB,
	}, nil
}

// Name implements backend.Driver.
func (*Driver) Name() string { return config.BackendBigQuery }

// Dialect implements backend.Driver.
func (*Driver) Dialect() string { return dialect.BigQuery }

// SupportsQualify implements backend.Driver.
func (*Driver) SupportsQualify() bool { return true }

// QualifiedTable returns the backticked three-part identifier.
func (d *Driver) QualifiedTable(logical string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.project, d.dataset, logical)
}

// AgeExpression computes age in years as of today.
func (*Driver) AgeExpression(birthColumn string) string {
	return fmt.Sprintf("DATE_DIFF(CURRENT_DATE(), DATE(%s), YEAR)", birthColumn)
}

// DateDiffExpression returns BigQuery's end-first DATE_DIFF form.
func (*Driver) DateDiffExpression(unit backend.DateUnit, start, end string) string {
	return fmt.Sprintf("DATE_DIFF(%s, %s, %s)", end, start, unit)
}

// ListTables discovers the configured dataset's schema.
func (d *Driver) ListTables(ctx context.Context) (map[string]backend.TableSchema, error) {
	out := make(map[string]backend.TableSchema)
	it := d.client.Dataset(d.dataset).Tables(ctx)
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list tables: %v", omop.ErrBackendUnavailable, err)
		}
		md, err := t.Metadata(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read metadata for %s: %v", omop.ErrBackendUnavailable, t.TableID, err)
		}
		var schema backend.TableSchema
		for _, f := range md.Schema {
			schema.Columns = append(schema.Columns, f.Name)
			switch f.Type {
			case bq.DateFieldType, bq.DateTimeFieldType, bq.TimestampFieldType:
				schema.DateColumns = append(schema.DateColumns, f.Name)
			}
		}
		out[t.TableID] = schema
	}
	return out, nil
}

// Validate dry-runs sql and prices it from bytes processed.
func (d *Driver) Validate(ctx context.Context, sql string) (*omop.SQLValidationResult, error) {
	if err := backend.CheckReadOnly(sql, d.Dialect()); err != nil {
		return &omop.SQLValidationResult{Valid: false, Error: err.Error()}, nil
	}
	q := d.client.Query(sql)
	q.DryRun = true
	job, err := q.Run(ctx)
	if err != nil {
		return &omop.SQLValidationResult{Valid: false, Error: err.Error()}, nil
	}
	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return &omop.SQLValidationResult{Valid: false, Error: "dry run returned no statistics"}, nil
	}
	bytes := status.Statistics.TotalBytesProcessed
	return &omop.SQLValidationResult{
		Valid:            true,
		BytesProcessed:   bytes,
		EstimatedCostUSD: float64(bytes) / bytesPerTB * d.pricePerTB,
	}, nil
}

// Execute runs sql with a trailing limit and a hard deadline.
func (d *Driver) Execute(ctx context.Context, sql string, rowLimit int, timeout time.Duration) ([]map[string]any, error) {
	if err := backend.CheckReadOnly(sql, d.Dialect()); err != nil {
		return nil, err
	}
	sql, err := backend.EnsureLimit(sql, rowLimit)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	it, err := d.client.Query(sql).Read(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: query exceeded %s", omop.ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: %v", omop.ErrValidationFailed, err)
	}
	var out []map[string]any
	for len(out) < rowLimit {
		var row map[string]bq.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: query exceeded %s", omop.ErrTimeout, timeout)
			}
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		converted := make(map[string]any, len(row))
		for k, v := range row {
			converted[k] = v
		}
		out = append(out, converted)
	}
	return out, nil
}

// Close releases the underlying client.
func (d *Driver) Close() error {
	return d.client.Close()
}
