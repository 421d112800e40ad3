package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kumarabd/hostwatch/pkg/value"
)

// JSONIFYPrefix marks engine string values that hold encoded JSON
const JSONIFYPrefix = "__JSONIFY__"

// ParseOutput decodes the engine's JSON array of rows and expands JSONIFY
// values. Rows with undecodable JSONIFY values keep the raw string and the
// decode errors are returned alongside the rows.
func ParseOutput(stdout []byte) ([]value.Value, error) {
	doc, err := value.ParseJSON(stdout)
	if err != nil {
		return nil, fmt.Errorf("decode engine output: %w", err)
	}
	rows, ok := doc.AsList()
	if !ok {
		return nil, fmt.Errorf("engine output is %s, want list", doc.Kind())
	}
	return rows, ExpandJSONIFY(rows)
}

// ExpandJSONIFY replaces, in place, every row string value carrying the
// JSONIFY prefix with the structure it encodes
func ExpandJSONIFY(rows []value.Value) error {
	var errs []error
	for _, row := range rows {
		for _, key := range row.Keys() {
			cell, _ := row.Get(key)
			s, ok := cell.AsString()
			if !ok || !strings.HasPrefix(s, JSONIFYPrefix) {
				continue
			}
			decoded, err := value.ParseJSON([]byte(strings.TrimPrefix(s, JSONIFYPrefix)))
			if err != nil {
				errs = append(errs, fmt.Errorf("column %q: %w", key, err))
				continue
			}
			row.Set(key, decoded)
		}
	}
	return errors.Join(errs...)
}
