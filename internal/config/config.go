package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/dshills/QuantaFrame/internal/feature"
	"github.com/dshills/QuantaFrame/internal/log"
)

//go:embed schema.cue
var schemaSource string

// Config is the complete planner and execution configuration.
type Config struct {
	Optimizer OptimizerConfig `json:"optimizer" yaml:"optimizer"`

	// Operators overrides operator availability flags by name.
	Operators map[string]bool `json:"operators" yaml:"operators"`

	Executor ExecutorConfig `json:"executor" yaml:"executor"`
	Log      log.Config     `json:"log" yaml:"log"`
}

// OptimizerConfig toggles the optimizer passes and bounds the fixed point loop.
type OptimizerConfig struct {
	PredicatePushdown  bool `json:"predicate_pushdown" yaml:"predicate_pushdown"`
	ProjectionPushdown bool `json:"projection_pushdown" yaml:"projection_pushdown"`
	SlicePushdown      bool `json:"slice_pushdown" yaml:"slice_pushdown"`
	Simplify           bool `json:"simplify" yaml:"simplify"`
	CSE                bool `json:"cse" yaml:"cse"`
	JoinReorder        bool `json:"join_reorder" yaml:"join_reorder"`
	CommSubplan        bool `json:"comm_subplan" yaml:"comm_subplan"`
	MaxIterations      int  `json:"max_iterations" yaml:"max_iterations"`

	// Parallel optimizes join sides and union branches concurrently once a
	// node has at least ParallelThreshold children.
	Parallel          bool `json:"parallel" yaml:"parallel"`
	ParallelThreshold int  `json:"parallel_threshold" yaml:"parallel_threshold"`
}

// ExecutorConfig controls lowering and execution.
type ExecutorConfig struct {
	// Preference lists executor names in the order lowering tries them.
	Preference       []string `json:"preference" yaml:"preference"`
	StreamingMinRows int64    `json:"streaming_min_rows" yaml:"streaming_min_rows"`
	BatchSize        int      `json:"batch_size" yaml:"batch_size"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Optimizer: OptimizerConfig{
			PredicatePushdown:  true,
			ProjectionPushdown: true,
			SlicePushdown:      true,
			Simplify:           true,
			CSE:                true,
			JoinReorder:        true,
			CommSubplan:        true,
			MaxIterations:      20,
			Parallel:           true,
			ParallelThreshold:  2,
		},
		Operators: map[string]bool{},
		Executor: ExecutorConfig{
			Preference:       []string{"streaming", "memory"},
			StreamingMinRows: 100_000,
			BatchSize:        1024,
		},
		Log: log.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from QUANTAFRAME_* environment variables.
// Values that do not parse are ignored.
func (c *Config) ApplyEnv() {
	if val := os.Getenv("QUANTAFRAME_MAX_ITERATIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Optimizer.MaxIterations = n
		}
	}
	if val := os.Getenv("QUANTAFRAME_OPTIMIZER_PARALLEL"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Optimizer.Parallel = enabled
		}
	}
	if val := os.Getenv("QUANTAFRAME_EXECUTOR_PREFERENCE"); val != "" {
		var prefs []string
		for _, p := range strings.Split(val, ",") {
			if p = strings.TrimSpace(p); p != "" {
				prefs = append(prefs, p)
			}
		}
		c.Executor.Preference = prefs
	}
	if val := os.Getenv("QUANTAFRAME_STREAMING_MIN_ROWS"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Executor.StreamingMinRows = n
		}
	}
	if val := os.Getenv("QUANTAFRAME_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Executor.BatchSize = n
		}
	}
	if val := os.Getenv("QUANTAFRAME_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("QUANTAFRAME_LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks the configuration against the embedded CUE schema and then
// against the rules the schema cannot express.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if err := schema.Unify(ctx.Encode(c)).Validate(cue.Concrete(true)); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Executor.Preference))
	for _, name := range c.Executor.Preference {
		if seen[name] {
			return fmt.Errorf("executor %q listed twice in preference", name)
		}
		seen[name] = true
	}

	if _, err := feature.FromMap(c.Operators); err != nil {
		return err
	}
	return nil
}

// Features builds the operator availability set: defaults, then the
// operators section, then QUANTAFRAME_FEATURE_* overrides.
func (c *Config) Features() (*feature.Set, error) {
	set, err := feature.FromMap(c.Operators)
	if err != nil {
		return nil, err
	}
	set.LoadEnvironment()
	return set, nil
}

// PassEnabled reports whether the named optimizer pass is switched on.
func (o OptimizerConfig) PassEnabled(name string) bool {
	switch name {
	case "predicate_pushdown":
		return o.PredicatePushdown
	case "projection_pushdown":
		return o.ProjectionPushdown
	case "slice_pushdown":
		return o.SlicePushdown
	case "simplify":
		return o.Simplify
	case "cse":
		return o.CSE
	case "join_reorder":
		return o.JoinReorder
	case "comm_subplan":
		return o.CommSubplan
	default:
		return true
	}
}

// ShouldStream reports whether a plan with the given estimate is large
// enough for a streaming executor. Unknown estimates (negative) never stream.
func (e ExecutorConfig) ShouldStream(estimatedRows int64) bool {
	return estimatedRows >= 0 && estimatedRows >= e.StreamingMinRows
}
