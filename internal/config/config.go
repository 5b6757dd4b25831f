// Package config loads indextrack configuration resources.
//
// A resource is a YAML (.yaml, .yml) or CUE (.cue) file. Both are unified
// with the embedded CUE schema, which supplies defaults and rejects unknown
// fields, and then decoded into Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// EnvDSN overrides the configured DSN when set.
const EnvDSN = "INDEXTRACK_DB"

// DefaultSQLitePath is the DSN used for the sqlite driver when none is given.
const DefaultSQLitePath = "indextrack.db"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalidConfig is returned for resources that fail schema validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the resolved configuration of one indextrack run.
type Config struct {
	Driver      string
	DSN         string
	Namespace   string
	Tolerance   time.Duration
	RejectStale bool
	MetricsAddr string
}

// rawConfig mirrors #Config field for field.
type rawConfig struct {
	Driver      string `json:"driver"`
	DSN         string `json:"dsn"`
	Namespace   string `json:"namespace"`
	Tolerance   string `json:"tolerance"`
	RejectStale bool   `json:"reject_stale"`
	MetricsAddr string `json:"metrics_addr"`
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	ctx := cuecontext.New()
	def, err := schemaDef(ctx)
	if err != nil {
		return nil, err
	}
	return decode(def)
}

// Load reads the resource at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes data as the resource named name. The extension of name
// selects the syntax.
func Parse(name string, data []byte) (*Config, error) {
	ctx := cuecontext.New()
	def, err := schemaDef(ctx)
	if err != nil {
		return nil, err
	}

	var value cue.Value
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".cue":
		value = ctx.CompileBytes(data, cue.Filename(name))
	case ".yaml", ".yml":
		var fields map[string]any
		if err := yaml.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if fields == nil {
			fields = map[string]any{}
		}
		value = ctx.Encode(fields)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, ext)
	}
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
	}

	cfg, err := decode(def.Unify(value))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv in
// production.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if dsn := getenv(EnvDSN); dsn != "" {
		c.DSN = dsn
	}
}

// Validate fills the sqlite DSN default and checks cross-field rules the
// schema cannot express alone.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.DSN == "" {
			c.DSN = DefaultSQLitePath
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("%w: postgres driver requires a dsn (set dsn or %s)", ErrInvalidConfig, EnvDSN)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.Driver)
	}
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must not be negative", ErrInvalidConfig)
	}
	return nil
}

func schemaDef(ctx *cue.Context) (cue.Value, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compiling config schema: %w", err)
	}
	return schema.LookupPath(cue.ParsePath("#Config")), nil
}

func decode(v cue.Value) (*Config, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var raw rawConfig
	if err := v.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	tolerance, err := time.ParseDuration(raw.Tolerance)
	if err != nil {
		return nil, fmt.Errorf("%w: tolerance: %v", ErrInvalidConfig, err)
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("%w: tolerance must not be negative", ErrInvalidConfig)
	}

	return &Config{
		Driver:      raw.Driver,
		DSN:         raw.DSN,
		Namespace:   raw.Namespace,
		Tolerance:   tolerance,
		RejectStale: raw.RejectStale,
		MetricsAddr: raw.MetricsAddr,
	}, nil
}
