package topfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformed is returned when a top file does not hold a list of
// single-key match mappings under its key
var ErrMalformed = errors.New("top file not formatted correctly")

// Matcher decides whether a top file match expression targets this host
type Matcher interface {
	Match(expr string) bool
}

// MatchAll targets every expression
type MatchAll struct{}

func (MatchAll) Match(string) bool { return true }

// MatcherFunc adapts a function to Matcher
type MatcherFunc func(expr string) bool

func (f MatcherFunc) Match(expr string) bool { return f(expr) }

// Parse returns the sources listed under key whose match expression is
// accepted by m, in file order
func Parse(data []byte, key string, m Matcher) ([]string, error) {
	if m == nil {
		m = MatchAll{}
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	node, ok := doc[key]
	if !ok || node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: key %q must hold a list of single-key mappings", ErrMalformed, key)
	}

	var sources []string
	for _, entry := range node.Content {
		var match map[string][]string
		if err := entry.Decode(&match); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, entry.Line, err)
		}
		// Content keeps document order
		for i := 0; i+1 < len(entry.Content); i += 2 {
			expr := entry.Content[i].Value
			if m.Match(expr) {
				sources = append(sources, match[expr]...)
			}
		}
	}
	return sources, nil
}

// Load reads and parses the top file at path
func Load(path, key string, m Matcher) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not load top file: %w", err)
	}
	return Parse(data, key, m)
}

// Resolve maps dotted source names onto YAML files under base,
// so "hostwatch.mask" becomes base/hostwatch/mask.yaml
func Resolve(base string, sources []string) []string {
	paths := make([]string, len(sources))
	for i, src := range sources {
		paths[i] = filepath.Join(base, strings.ReplaceAll(src, ".", string(filepath.Separator))+".yaml")
	}
	return paths
}
