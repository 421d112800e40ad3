package mask

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kumarabd/hostwatch/pkg/value"
)

// DefaultMaskBy replaces masked spans when the configuration names none
const DefaultMaskBy = "******"

// QueryWildcard selects every query of a result set
const QueryWildcard = "*"

// StringRule redacts regex matches inside one column of a query's rows
type StringRule struct {
	QueryName           string   `json:"query_name" yaml:"query_name"`
	Column              string   `json:"column" yaml:"column"`
	BlacklistedPatterns []string `json:"blacklisted_patterns" yaml:"blacklisted_patterns"`
}

// ObjectRule masks attributes of structured column values whose
// discriminator attribute holds a blacklisted value
type ObjectRule struct {
	QueryName           string        `json:"query_name" yaml:"query_name"`
	Column              string        `json:"column" yaml:"column"`
	AttributeToCheck    string        `json:"attribute_to_check" yaml:"attribute_to_check"`
	BlacklistedPatterns []value.Value `json:"blacklisted_patterns" yaml:"blacklisted_patterns"`
	AttributesToMask    []string      `json:"attributes_to_mask" yaml:"attributes_to_mask"`
}

// Config is the merged mask document
type Config struct {
	BlacklistedStrings []StringRule `json:"blacklisted_strings" yaml:"blacklisted_strings"`
	BlacklistedObjects []ObjectRule `json:"blacklisted_objects" yaml:"blacklisted_objects"`
	MaskBy             string       `json:"mask_by" yaml:"mask_by"`
}

// Empty reports whether cfg carries no rules
func (c Config) Empty() bool {
	return len(c.BlacklistedStrings) == 0 && len(c.BlacklistedObjects) == 0
}

func (c Config) maskBy() string {
	if c.MaskBy == "" {
		return DefaultMaskBy
	}
	return c.MaskBy
}

// RuleError describes a mask rule that was skipped
type RuleError struct {
	Kind  string
	Index int
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("malformed %s mask rule %d: %v", e.Kind, e.Index, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

var (
	errMissingQueryName = errors.New("query_name is required")
	errMissingColumn    = errors.New("column is required")
	errMissingAttribute = errors.New("attribute_to_check is required")
)

func (r StringRule) validate() error {
	switch {
	case r.QueryName == "":
		return errMissingQueryName
	case r.Column == "":
		return errMissingColumn
	}
	return nil
}

func (r ObjectRule) validate() error {
	switch {
	case r.QueryName == "":
		return errMissingQueryName
	case r.Column == "":
		return errMissingColumn
	case r.AttributeToCheck == "":
		return errMissingAttribute
	}
	return nil
}

// Decode builds a Config from a merged mask document. Rules that fail to
// decode or validate are left out and reported as *RuleError.
func Decode(doc value.Value) (Config, []error) {
	var cfg Config
	var errs []error
	if !doc.IsMap() {
		return cfg, []error{fmt.Errorf("mask document is %s, want mapping", doc.Kind())}
	}

	if by, ok := doc.Get("mask_by"); ok && by.IsScalar() {
		cfg.MaskBy = by.Text()
	}

	strs, _ := doc.Get("blacklisted_strings")
	items, _ := strs.AsList()
	for i, item := range items {
		var rule StringRule
		if err := decodeRule(item, &rule); err != nil {
			errs = append(errs, &RuleError{Kind: "string", Index: i, Err: err})
			continue
		}
		if err := rule.validate(); err != nil {
			errs = append(errs, &RuleError{Kind: "string", Index: i, Err: err})
			continue
		}
		cfg.BlacklistedStrings = append(cfg.BlacklistedStrings, rule)
	}

	objs, _ := doc.Get("blacklisted_objects")
	items, _ = objs.AsList()
	for i, item := range items {
		var rule ObjectRule
		if err := decodeRule(item, &rule); err != nil {
			errs = append(errs, &RuleError{Kind: "object", Index: i, Err: err})
			continue
		}
		if err := rule.validate(); err != nil {
			errs = append(errs, &RuleError{Kind: "object", Index: i, Err: err})
			continue
		}
		cfg.BlacklistedObjects = append(cfg.BlacklistedObjects, rule)
	}
	return cfg, errs
}

func decodeRule(item value.Value, out interface{}) error {
	if !item.IsMap() {
		return fmt.Errorf("rule is %s, want mapping", item.Kind())
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
