// Package planspec reads pipeline descriptions from YAML and turns them
// into lazy frames.
//
// A document names its sources, then a list of frames. Each frame starts
// from a source or an earlier frame and applies its steps in order:
//
//	sources:
//	  - name: sales
//	    columns: [{name: category, type: str}, {name: amount, type: i64}]
//	    rows: [[A, 10], [B, 5]]
//	frames:
//	  - name: totals
//	    from: sales
//	    steps:
//	      - filter: {op: gt, args: [amount, {lit: 1}]}
//	      - group_by: {keys: [category], aggs: [{agg: sum, args: [amount]}]}
//	output: totals
package planspec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a parsed pipeline file.
type Document struct {
	// Features overrides the configured operator flags.
	Features map[string]bool `yaml:"features"`
	Sources  []SourceSpec    `yaml:"sources"`
	Frames   []FrameSpec     `yaml:"frames"`
	// Output names the frame to run. It defaults to the last frame.
	Output string `yaml:"output"`
}

// SourceSpec is either an inline table or a SQL table.
type SourceSpec struct {
	Name    string       `yaml:"name"`
	Columns []ColumnSpec `yaml:"columns"`
	Rows    [][]any      `yaml:"rows"`
	SQL     *SQLSpec     `yaml:"sql"`
}

// ColumnSpec declares one inline column.
type ColumnSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// SQLSpec points at a table reachable through database/sql.
type SQLSpec struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	// Analyze counts the table's rows up front so the planner has an
	// estimate.
	Analyze bool `yaml:"analyze"`
}

// FrameSpec is a named chain of steps.
type FrameSpec struct {
	Name  string `yaml:"name"`
	From  string `yaml:"from"`
	Steps []Step `yaml:"steps"`
}

// Step is one builder call. Exactly one field is set.
type Step struct {
	Filter      *Expr        `yaml:"filter"`
	Select      []Expr       `yaml:"select"`
	WithColumns []Expr       `yaml:"with_columns"`
	GroupBy     *GroupBySpec `yaml:"group_by"`
	Join        *JoinSpec    `yaml:"join"`
	Sort        []SortSpec   `yaml:"sort"`
	Slice       *SliceSpec   `yaml:"slice"`
	Head        *int64       `yaml:"head"`
	Unique      *UniqueSpec  `yaml:"unique"`
	Concat      []string     `yaml:"concat"`
	Cache       bool         `yaml:"cache"`
}

// GroupBySpec groups by keys, optionally over index windows.
type GroupBySpec struct {
	Keys    []Expr       `yaml:"keys"`
	Aggs    []Expr       `yaml:"aggs"`
	Dynamic *DynamicSpec `yaml:"dynamic"`
}

// DynamicSpec describes the windows of a dynamic group-by. A zero period
// means the period equals every.
type DynamicSpec struct {
	Index  string `yaml:"index"`
	Every  int64  `yaml:"every"`
	Period int64  `yaml:"period"`
	Offset int64  `yaml:"offset"`
}

// JoinSpec joins the current frame with another frame or source.
type JoinSpec struct {
	With      string   `yaml:"with"`
	How       string   `yaml:"how"`
	On        []string `yaml:"on"`
	LeftOn    []Expr   `yaml:"left_on"`
	RightOn   []Expr   `yaml:"right_on"`
	Where     *Expr    `yaml:"where"`
	Suffix    string   `yaml:"suffix"`
	Strategy  string   `yaml:"strategy"`
	Tolerance *float64 `yaml:"tolerance"`
}

// SortSpec is one sort key.
type SortSpec struct {
	By         Expr `yaml:"by"`
	Descending bool `yaml:"descending"`
	NullsLast  bool `yaml:"nulls_last"`
}

type SliceSpec struct {
	Offset int64 `yaml:"offset"`
	Length int64 `yaml:"length"`
}

type UniqueSpec struct {
	Subset []string `yaml:"subset"`
	Keep   string   `yaml:"keep"`
}

// Load reads and parses a pipeline file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a pipeline document and checks its structure.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	if err := doc.check(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) check() error {
	names := map[string]bool{}
	for _, s := range d.Sources {
		if s.Name == "" {
			return fmt.Errorf("source without a name")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate name %q", s.Name)
		}
		names[s.Name] = true
		if (s.SQL == nil) == (len(s.Columns) == 0) {
			return fmt.Errorf("source %s needs either columns or sql", s.Name)
		}
	}
	if len(d.Frames) == 0 {
		return fmt.Errorf("pipeline has no frames")
	}
	for _, f := range d.Frames {
		if f.Name == "" {
			return fmt.Errorf("frame without a name")
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate name %q", f.Name)
		}
		if !names[f.From] {
			return fmt.Errorf("frame %s reads unknown input %q", f.Name, f.From)
		}
		for i, step := range f.Steps {
			if n := step.count(); n != 1 {
				return fmt.Errorf("frame %s step %d sets %d operations, expected 1", f.Name, i+1, n)
			}
		}
		names[f.Name] = true
	}
	if d.Output != "" && !names[d.Output] {
		return fmt.Errorf("output %q is not defined", d.Output)
	}
	return nil
}

func (s Step) count() int {
	n := 0
	for _, set := range []bool{
		s.Filter != nil, s.Select != nil, s.WithColumns != nil, s.GroupBy != nil,
		s.Join != nil, s.Sort != nil, s.Slice != nil, s.Head != nil,
		s.Unique != nil, s.Concat != nil, s.Cache,
	} {
		if set {
			n++
		}
	}
	return n
}
