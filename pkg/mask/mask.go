package mask

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/query"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// patternTimeout bounds a single pattern evaluation
const patternTimeout = time.Second

// Masker applies mask configurations to query results in place
type Masker struct {
	log    *logger.Handler
	metric *metrics.Handler

	mu       sync.Mutex
	compiled map[string]*regexp2.Regexp
}

// NewMasker creates a masker
func NewMasker(log *logger.Handler, m *metrics.Handler) *Masker {
	return &Masker{
		log:      log,
		metric:   m,
		compiled: make(map[string]*regexp2.Regexp),
	}
}

// Mask rewrites the rows of results according to cfg. It never fails:
// malformed rules and patterns are logged and skipped.
func (m *Masker) Mask(results query.Results, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("panic", fmt.Sprint(r)).Msg("An error occurred while masking query results")
		}
	}()

	maskBy := cfg.maskBy()
	for i, rule := range cfg.BlacklistedStrings {
		if err := rule.validate(); err != nil {
			m.skipRule(&RuleError{Kind: "string", Index: i, Err: err})
			continue
		}
		m.maskStrings(results, rule, maskBy)
	}
	for i, rule := range cfg.BlacklistedObjects {
		if err := rule.validate(); err != nil {
			m.skipRule(&RuleError{Kind: "object", Index: i, Err: err})
			continue
		}
		m.maskObjects(results, rule, maskBy)
	}
}

func (m *Masker) skipRule(err error) {
	m.log.Error().Err(err).Msg("Skipping mask rule")
	m.metric.IncMaskRuleErrors("rule")
}

// selectRows returns the row lists a rule applies to
func selectRows(results query.Results, queryName string) [][]value.Value {
	var out [][]value.Value
	for _, rs := range results {
		if queryName != QueryWildcard {
			if res := rs[queryName]; res != nil {
				out = append(out, res.Data)
			}
			continue
		}
		for _, name := range rs.Names() {
			if res := rs[name]; res != nil {
				out = append(out, res.Data)
			}
		}
	}
	return out
}

func (m *Masker) maskStrings(results query.Results, rule StringRule, maskBy string) {
	patterns := m.compileAll(rule.BlacklistedPatterns)
	if len(patterns) == 0 {
		return
	}
	for _, rows := range selectRows(results, rule.QueryName) {
		for _, row := range rows {
			cell, ok := row.Get(rule.Column)
			orig, isString := cell.AsString()
			if !ok || !isString {
				// a column missing from one row is missing from the rest
				break
			}
			masked := orig
			for _, re := range patterns {
				out, err := substitute(re, masked, maskBy)
				if err != nil {
					m.log.Error().Err(err).Str("pattern", re.String()).Msg("Mask pattern evaluation failed")
					m.metric.IncMaskRuleErrors("evaluate")
					continue
				}
				masked = out
			}
			if masked != orig {
				row.Set(rule.Column, value.String(masked))
				m.metric.IncMaskedValues("string")
			}
		}
	}
}

// substitute keeps the first capture group of every match and replaces
// the rest of the match with maskBy
func substitute(re *regexp2.Regexp, input, maskBy string) (string, error) {
	return re.ReplaceFunc(input, func(match regexp2.Match) string {
		return groupText(&match, 1) + maskBy + groupText(&match, 3)
	}, -1, -1)
}

func groupText(match *regexp2.Match, n int) string {
	if n >= match.GroupCount() {
		return ""
	}
	g := match.GroupByNumber(n)
	if g == nil || len(g.Captures) == 0 {
		return ""
	}
	return g.String()
}

// compileAll compiles each pattern with a trailing empty group so patterns
// without groups of their own mask the whole match
func (m *Masker) compileAll(patterns []string) []*regexp2.Regexp {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, ok := m.compiled[p]; ok {
			out = append(out, re)
			continue
		}
		translated, err := translatePattern(p)
		if err == nil {
			var re *regexp2.Regexp
			re, err = regexp2.Compile(translated+"()", regexp2.None)
			if err == nil {
				re.MatchTimeout = patternTimeout
				m.compiled[p] = re
				out = append(out, re)
				continue
			}
		}
		m.log.Error().Err(err).Str("pattern", p).Msg("Skipping malformed mask pattern")
		m.metric.IncMaskRuleErrors("pattern")
	}
	return out
}

// translatePattern rewrites Python named groups (?P<name>...) to plain
// capturing groups and (?P=name) to numbered backreferences, so groups
// keep their left-to-right numbering.
func translatePattern(p string) (string, error) {
	var b strings.Builder
	names := make(map[string]int)
	group := 0
	inClass := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '\\':
			b.WriteByte(c)
			if i+1 < len(p) {
				i++
				b.WriteByte(p[i])
			}
			continue
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
			b.WriteByte(c)
			// a ] right after [ or [^ is a literal
			if i+1 < len(p) && p[i+1] == '^' {
				i++
				b.WriteByte('^')
			}
			if i+1 < len(p) && p[i+1] == ']' {
				i++
				b.WriteByte(']')
			}
			continue
		case c == '(':
			rest := p[i+1:]
			switch {
			case strings.HasPrefix(rest, "?P<"):
				end := strings.IndexByte(rest, '>')
				if end < 0 {
					return "", fmt.Errorf("unterminated group name at offset %d", i)
				}
				group++
				names[rest[3:end]] = group
				b.WriteByte('(')
				i += end + 1
				continue
			case strings.HasPrefix(rest, "?P="):
				end := strings.IndexByte(rest, ')')
				if end < 0 {
					return "", fmt.Errorf("unterminated backreference at offset %d", i)
				}
				n, ok := names[rest[3:end]]
				if !ok {
					return "", fmt.Errorf("unknown group name %q", rest[3:end])
				}
				fmt.Fprintf(&b, "(?:\\%d)", n)
				i += end + 1
				continue
			case !strings.HasPrefix(rest, "?"):
				group++
			}
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func (m *Masker) maskObjects(results query.Results, rule ObjectRule, maskBy string) {
	for _, rows := range selectRows(results, rule.QueryName) {
		for _, row := range rows {
			cell, ok := row.Get(rule.Column)
			if !ok {
				break
			}
			if s, isString := cell.AsString(); isString && strings.TrimSpace(s) != "" {
				break
			}
			m.maskObject(cell, rule, maskBy)
		}
	}
}

// maskObject walks lists element by element and masks every mapping whose
// discriminator matches the rule
func (m *Masker) maskObject(node value.Value, rule ObjectRule, maskBy string) {
	if items, ok := node.AsList(); ok {
		for _, child := range items {
			m.maskObject(child, rule, maskBy)
		}
		return
	}
	disc, ok := node.Get(rule.AttributeToCheck)
	if !ok || !blacklisted(disc, rule.BlacklistedPatterns) {
		return
	}
	for _, key := range rule.AttributesToMask {
		if _, present := node.Get(key); present {
			node.Set(key, value.String(maskBy))
			m.metric.IncMaskedValues("object")
		}
	}
}

func blacklisted(v value.Value, list []value.Value) bool {
	for _, item := range list {
		if item.Equal(v) {
			return true
		}
	}
	return false
}
