package query

import (
	"errors"
	"fmt"
	"os"

	"github.com/kumarabd/hostwatch/pkg/merge"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// ErrNotMapping is returned when a definition file is not a YAML mapping
var ErrNotMapping = errors.New("file data is not formed as a mapping")

// Definition is one named query of a schedule group
type Definition struct {
	Name  string
	Query string
}

// LoadDefinitions reads every file and deep-merges them with list merging.
// The result is keyed by schedule group.
func LoadDefinitions(paths []string) (value.Value, error) {
	docs := make([]value.Value, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return value.Value{}, fmt.Errorf("could not find file %s: %w", path, err)
		}
		doc, err := value.ParseYAML(data)
		if err != nil {
			return value.Value{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if !doc.IsMap() {
			return value.Value{}, fmt.Errorf("%s: %w", path, ErrNotMapping)
		}
		docs = append(docs, doc)
	}
	return merge.All(true, docs...)
}

// Group returns the definitions of group sorted by name. Entries without
// query text are skipped.
func Group(defs value.Value, group string) []Definition {
	entries, ok := defs.Get(group)
	if !ok {
		return nil
	}
	var out []Definition
	for _, name := range entries.Keys() {
		entry, _ := entries.Get(name)
		q, _ := entry.Get("query")
		text, _ := q.AsString()
		if text == "" {
			continue
		}
		out = append(out, Definition{Name: name, Query: text})
	}
	return out
}
