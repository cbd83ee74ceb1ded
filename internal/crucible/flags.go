package crucible

import (
	"fmt"
	"sort"
)

// Flag is one named CMake cache entry (without the leading -D).
type Flag struct {
	Name  string
	Value string
}

// FlagSet is the ordered token sequence handed to the configure step.
// Named defines are collision-checked: the same cache entry set twice,
// in any namespace, is a synthesis bug and fails loudly instead of
// letting CMake's last-one-wins hide it.
type FlagSet struct {
	tokens []string
	seen   map[string]bool
}

func NewFlagSet() *FlagSet {
	return &FlagSet{seen: make(map[string]bool)}
}

// Raw appends a token that is not a named define (e.g. the generator
// selection). No collision tracking applies.
func (fs *FlagSet) Raw(token string) {
	fs.tokens = append(fs.tokens, token)
}

// Define appends -Dname=value, rejecting duplicate names.
func (fs *FlagSet) Define(name, value string) error {
	if fs.seen[name] {
		return fmt.Errorf("flag %s set more than once", name)
	}
	fs.seen[name] = true
	fs.tokens = append(fs.tokens, "-D"+name+"="+value)
	return nil
}

// DefineAll appends each flag in order, stopping at the first collision.
func (fs *FlagSet) DefineAll(flags []Flag) error {
	for _, f := range flags {
		if err := fs.Define(f.Name, f.Value); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether the named define was set.
func (fs *FlagSet) Has(name string) bool {
	return fs.seen[name]
}

// Tokens returns a copy; the orchestrator receives an immutable view.
func (fs *FlagSet) Tokens() []string {
	out := make([]string, len(fs.tokens))
	copy(out, fs.tokens)
	return out
}

// TripleConfig carries the per-target-triple settings shared by the
// runtimes and builtins builds. The sentinel triple "default" applies to
// a single-configuration build and is emitted without namespacing.
type TripleConfig struct {
	Triple     string
	Args       []Flag
	Sanitizers bool // build the sanitizer runtimes for this triple
	Profile    bool // build the profiling runtime for this triple
}

// NewTripleConfig validates the no-duplicate-flag invariant at
// construction time instead of trusting table authors.
func NewTripleConfig(triple string, args []Flag, sanitizers, profile bool) (TripleConfig, error) {
	names := make(map[string]bool, len(args))
	for _, f := range args {
		if names[f.Name] {
			return TripleConfig{}, fmt.Errorf("triple %s sets flag %s more than once", triple, f.Name)
		}
		names[f.Name] = true
	}
	return TripleConfig{Triple: triple, Args: args, Sanitizers: sanitizers, Profile: profile}, nil
}

// sortTriples returns the configs in lexicographic triple order, the
// order both aggregation lists are emitted in.
func sortTriples(configs []TripleConfig) []TripleConfig {
	out := make([]TripleConfig, len(configs))
	copy(out, configs)
	sort.Slice(out, func(i, j int) bool { return out[i].Triple < out[j].Triple })
	return out
}
