package feature

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
)

// Flag names an optional operator family.
type Flag string

// Operator availability flags for QuantaFrame
const (
	AsofJoin                Flag = "asof_join"
	DynamicGroupBy          Flag = "dynamic_group_by"
	CrossJoin               Flag = "cross_join"
	WindowExpressions       Flag = "window_expressions"
	InequalityJoin          Flag = "inequality_join"
	ExperimentalJoinReorder Flag = "experimental_join_reorder"
)

// FlagMetadata contains metadata about a feature flag
type FlagMetadata struct {
	Name         Flag
	Description  string
	DefaultValue bool
	Category     string
	Stability    string // "stable", "beta", "experimental"
}

var registry = []*FlagMetadata{
	{Name: AsofJoin, Description: "Allow asof joins (nearest key match)", DefaultValue: true, Category: "join", Stability: "stable"},
	{Name: CrossJoin, Description: "Allow cartesian product joins", DefaultValue: true, Category: "join", Stability: "stable"},
	{Name: InequalityJoin, Description: "Allow joins on range predicates", DefaultValue: true, Category: "join", Stability: "beta"},
	{Name: DynamicGroupBy, Description: "Allow dynamic (time window) group-by", DefaultValue: true, Category: "aggregation", Stability: "beta"},
	{Name: WindowExpressions, Description: "Allow window expressions (over)", DefaultValue: true, Category: "expression", Stability: "stable"},
	{Name: ExperimentalJoinReorder, Description: "Reorder inner equi-join chains by estimated cardinality", DefaultValue: false, Category: "optimizer", Stability: "experimental"},
}

// Set holds the enabled state of every flag. Sets are independent of one
// another; a plan builder and optimizer share the Set they were given.
type Set struct {
	mu       deadlock.RWMutex
	flags    map[Flag]*flagState
	metadata map[Flag]*FlagMetadata
	onChange []func(Flag, bool)
}

type flagState struct {
	enabled    atomic.Bool
	overridden bool
	envVar     string
}

// NewSet returns a Set with every flag at its default value.
func NewSet() *Set {
	s := &Set{
		flags:    make(map[Flag]*flagState),
		metadata: make(map[Flag]*FlagMetadata),
	}
	for _, md := range registry {
		state := &flagState{envVar: flagToEnvVar(md.Name)}
		state.enabled.Store(md.DefaultValue)
		s.flags[md.Name] = state
		s.metadata[md.Name] = md
	}
	return s
}

// FromEnvironment returns a default Set with QUANTAFRAME_FEATURE_* overrides applied.
func FromEnvironment() *Set {
	s := NewSet()
	s.LoadEnvironment()
	return s
}

// FromMap returns a default Set with the given overrides. Unknown names are an error.
func FromMap(values map[string]bool) (*Set, error) {
	s := NewSet()
	for name, enabled := range values {
		flag := Flag(name)
		if !s.Known(flag) {
			return nil, fmt.Errorf("unknown feature flag %q", name)
		}
		s.Set(flag, enabled)
		s.flags[flag].overridden = true
	}
	return s, nil
}

// LoadEnvironment applies environment overrides. Unparseable values are ignored.
func (s *Set) LoadEnvironment() {
	for flag, state := range s.flags {
		val := os.Getenv(state.envVar)
		if val == "" {
			continue
		}
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			continue
		}
		s.Set(flag, enabled)
		state.overridden = true
	}
}

// Known reports whether flag is registered.
func (s *Set) Known(flag Flag) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flags[flag]
	return ok
}

// IsEnabled checks if a flag is enabled. A nil Set has every flag at its default.
func (s *Set) IsEnabled(flag Flag) bool {
	if s == nil {
		for _, md := range registry {
			if md.Name == flag {
				return md.DefaultValue
			}
		}
		return false
	}
	s.mu.RLock()
	state, exists := s.flags[flag]
	s.mu.RUnlock()

	if !exists {
		return false
	}
	return state.enabled.Load()
}

// Enable enables a feature flag
func (s *Set) Enable(flag Flag) {
	s.Set(flag, true)
}

// Disable disables a feature flag
func (s *Set) Disable(flag Flag) {
	s.Set(flag, false)
}

// Set sets a flag value and notifies listeners
func (s *Set) Set(flag Flag, enabled bool) {
	s.mu.RLock()
	state, exists := s.flags[flag]
	callbacks := s.onChange
	s.mu.RUnlock()

	if !exists {
		return
	}

	if state.enabled.Swap(enabled) != enabled {
		for _, cb := range callbacks {
			cb(flag, enabled)
		}
	}
}

// OnChange registers a callback for flag changes
func (s *Set) OnChange(callback func(Flag, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, callback)
}

// All returns all flag states
func (s *Set) All() map[Flag]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[Flag]bool, len(s.flags))
	for flag, state := range s.flags {
		result[flag] = state.enabled.Load()
	}
	return result
}

// Metadata returns metadata for a flag
func (s *Set) Metadata(flag Flag) (*FlagMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, exists := s.metadata[flag]
	return md, exists
}

// ByCategory returns all flags in a category, sorted by name.
func (s *Set) ByCategory(category string) []Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Flag
	for flag, md := range s.metadata {
		if md.Category == category {
			result = append(result, flag)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Reset resets all flags to their default values
func (s *Set) Reset() {
	for _, md := range registry {
		s.Set(md.Name, md.DefaultValue)
		s.mu.Lock()
		s.flags[md.Name].overridden = false
		s.mu.Unlock()
	}
}

// Clone returns an independent copy without callbacks.
func (s *Set) Clone() *Set {
	c := NewSet()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for flag, state := range s.flags {
		c.flags[flag].enabled.Store(state.enabled.Load())
		c.flags[flag].overridden = state.overridden
	}
	return c
}

func flagToEnvVar(flag Flag) string {
	return "QUANTAFRAME_FEATURE_" + strings.ToUpper(string(flag))
}

// DebugString returns a table of all flag states grouped by category.
func (s *Set) DebugString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make(map[string][]Flag)
	var names []string
	for flag, md := range s.metadata {
		if _, ok := categories[md.Category]; !ok {
			names = append(names, md.Category)
		}
		categories[md.Category] = append(categories[md.Category], flag)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Feature Flags:\n")
	for _, category := range names {
		flags := categories[category]
		sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
		fmt.Fprintf(&b, "\n%s:\n", category)
		for _, flag := range flags {
			state := s.flags[flag]
			md := s.metadata[flag]
			status := "disabled"
			if state.enabled.Load() {
				status = "enabled"
			}
			override := ""
			if state.overridden {
				override = " (overridden)"
			}
			fmt.Fprintf(&b, "  %-26s: %-8s [%s]%s - %s\n",
				flag, status, md.Stability, override, md.Description)
		}
	}
	return b.String()
}
