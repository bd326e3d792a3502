// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the process-wide settings.
//
// Settings come from an optional YAML file plus environment overrides with
// the OMOP_MCP_ prefix (nested fields use underscores, e.g.
// OMOP_MCP_BIGQUERY_PROJECT). The option set is closed: unknown environment
// keys are ignored, malformed values fail the load with a diagnostic.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "OMOP_MCP"

// Backend names accepted by backend_type.
const (
	BackendBigQuery  = "bigquery"
	BackendSnowflake = "snowflake"
	BackendDuckDB    = "duckdb"
	BackendPostgres  = "postgres"
)

// BigQueryConfig holds the cloud column-store credentials.
type BigQueryConfig struct {
	Project         string `mapstructure:"project"`
	Dataset         string `mapstructure:"dataset"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// SnowflakeConfig holds the enterprise cloud warehouse credentials.
type SnowflakeConfig struct {
	Account   string `mapstructure:"account"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Warehouse string `mapstructure:"warehouse"`
	Database  string `mapstructure:"database"`
	Schema    string `mapstructure:"schema"`
}

// PostgresConfig holds the relational warehouse credentials.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Schema   string `mapstructure:"schema"`
}

// DuckDBConfig holds the embedded engine settings. An empty Path means an
// in-memory database.
type DuckDBConfig struct {
	Path   string `mapstructure:"path"`
	Schema string `mapstructure:"schema"`
}

// Config is the closed set of recognized options.
type Config struct {
	MaxQueryCostUSD       float64  `mapstructure:"max_query_cost_usd"`
	QueryTimeoutSec       int      `mapstructure:"query_timeout_sec"`
	AllowPatientList      bool     `mapstructure:"allow_patient_list"`
	PHIMode               bool     `mapstructure:"phi_mode"`
	DefaultRowLimit       int      `mapstructure:"default_row_limit"`
	MaxRowLimit           int      `mapstructure:"max_row_limit"`
	StrictTableValidation bool     `mapstructure:"strict_table_validation"`
	OMOPAllowedTables     []string `mapstructure:"omop_allowed_tables"`
	OMOPBlockedColumns    []string `mapstructure:"omop_blocked_columns"`

	BackendType string          `mapstructure:"backend_type"`
	BigQuery    BigQueryConfig  `mapstructure:"bigquery"`
	Snowflake   SnowflakeConfig `mapstructure:"snowflake"`
	Postgres    PostgresConfig  `mapstructure:"postgres"`
	DuckDB      DuckDBConfig    `mapstructure:"duckdb"`

	// BigQueryPricePerTB is the on-demand price used to turn dry-run bytes
	// into a dollar estimate. Configurable so a flat-rate project can zero
	// it out; default matches the public on-demand price.
	BigQueryPricePerTB float64 `mapstructure:"bigquery_price_per_tb"`

	VocabularyBaseURL    string `mapstructure:"vocabulary_base_url"`
	VocabularyTimeoutSec int    `mapstructure:"vocabulary_timeout_sec"`
	VocabularyCacheSize  int    `mapstructure:"vocabulary_cache_size"`

	OAuthIssuer   string `mapstructure:"oauth_issuer"`
	OAuthAudience string `mapstructure:"oauth_audience"`

	HTTPHost string `mapstructure:"http_host"`
	HTTPPort int    `mapstructure:"http_port"`
}

// setDefaults registers every recognized key. Registration is what makes a
// key visible to environment overrides, so even empty-valued options appear
// here.
func setDefaults(v *viper.Viper) {
	v.SetDefault("max_query_cost_usd", 1.0)
	v.SetDefault("query_timeout_sec", 30)
	v.SetDefault("allow_patient_list", false)
	v.SetDefault("phi_mode", false)
	v.SetDefault("default_row_limit", 1000)
	v.SetDefault("max_row_limit", 10000)
	v.SetDefault("strict_table_validation", false)
	v.SetDefault("omop_allowed_tables", omop.StandardTables)
	v.SetDefault("omop_blocked_columns", omop.PHIBlockedColumns)
	v.SetDefault("backend_type", BackendBigQuery)
	v.SetDefault("bigquery_price_per_tb", 5.0)
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "")
	v.SetDefault("bigquery.credentials_file", "")
	v.SetDefault("snowflake.account", "")
	v.SetDefault("snowflake.user", "")
	v.SetDefault("snowflake.password", "")
	v.SetDefault("snowflake.warehouse", "")
	v.SetDefault("snowflake.database", "")
	v.SetDefault("snowflake.schema", "PUBLIC")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "")
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.schema", "public")
	v.SetDefault("duckdb.path", "")
	v.SetDefault("duckdb.schema", "")
	v.SetDefault("vocabulary_base_url", "")
	v.SetDefault("vocabulary_timeout_sec", 30)
	v.SetDefault("vocabulary_cache_size", 1000)
	v.SetDefault("oauth_issuer", "")
	v.SetDefault("oauth_audience", "")
	v.SetDefault("http_host", "127.0.0.1")
	v.SetDefault("http_port", 4580)
}

// Load reads configuration from the optional file at path (empty means no
// file) and the environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks bounds and cross-field consistency.
func (c *Config) Validate() error {
	if c.MaxQueryCostUSD < 0 {
		return fmt.Errorf("max_query_cost_usd must be >= 0, got %v", c.MaxQueryCostUSD)
	}
	if c.QueryTimeoutSec <= 0 {
		return fmt.Errorf("query_timeout_sec must be > 0, got %d", c.QueryTimeoutSec)
	}
	if c.DefaultRowLimit < 1 {
		return fmt.Errorf("default_row_limit must be >= 1, got %d", c.DefaultRowLimit)
	}
	if c.MaxRowLimit < c.DefaultRowLimit {
		return fmt.Errorf("max_row_limit (%d) must be >= default_row_limit (%d)", c.MaxRowLimit, c.DefaultRowLimit)
	}
	switch c.BackendType {
	case BackendBigQuery, BackendSnowflake, BackendDuckDB, BackendPostgres:
	default:
		return fmt.Errorf("backend_type must be one of bigquery, snowflake, duckdb, postgres; got %q", c.BackendType)
	}
	if c.BigQueryPricePerTB < 0 {
		return fmt.Errorf("bigquery_price_per_tb must be >= 0, got %v", c.BigQueryPricePerTB)
	}
	if c.VocabularyTimeoutSec <= 0 {
		return fmt.Errorf("vocabulary_timeout_sec must be > 0, got %d", c.VocabularyTimeoutSec)
	}
	if c.VocabularyCacheSize < 1 {
		return fmt.Errorf("vocabulary_cache_size must be >= 1, got %d", c.VocabularyCacheSize)
	}
	if (c.OAuthIssuer == "") != (c.OAuthAudience == "") {
		return fmt.Errorf("oauth_issuer and oauth_audience must be set together")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", c.HTTPPort)
	}
	return nil
}

// QueryTimeout returns the hard wall-clock limit for driver execution.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSec) * time.Second
}

// VocabularyTimeout returns the per-call limit for vocabulary requests,
// covering all retries of one call.
func (c *Config) VocabularyTimeout() time.Duration {
	return time.Duration(c.VocabularyTimeoutSec) * time.Second
}

// EffectiveRowLimit clamps a requested row limit into [1, max_row_limit],
// substituting default_row_limit when the request carries none.
func (c *Config) EffectiveRowLimit(requested int) int {
	if requested <= 0 {
		return c.DefaultRowLimit
	}
	if requested > c.MaxRowLimit {
		return c.MaxRowLimit
	}
	return requested
}

// TableAllowed reports whether the table is on the allowlist.
func (c *Config) TableAllowed(table string) bool {
	for _, t := range c.OMOPAllowedTables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}

// ColumnBlocked reports whether the column is on the PHI blocklist.
func (c *Config) ColumnBlocked(column string) bool {
	for _, b := range c.OMOPBlockedColumns {
		if strings.EqualFold(b, column) {
			return true
		}
	}
	return false
}
