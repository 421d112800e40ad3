package mask

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kumarabd/gokit/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarabd/hostwatch/pkg/cache"
	"github.com/kumarabd/hostwatch/pkg/query"
	"github.com/kumarabd/hostwatch/pkg/value"
)

func newTestMasker() *Masker {
	log, _ := logger.New("test", logger.Options{Format: logger.JSONLogFormat})
	return NewMasker(log, nil)
}

func rows(t *testing.T, docs ...string) []value.Value {
	t.Helper()
	out := make([]value.Value, len(docs))
	for i, d := range docs {
		v, err := value.ParseJSON([]byte(d))
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func cell(t *testing.T, row value.Value, column string) string {
	t.Helper()
	v, ok := row.Get(column)
	require.True(t, ok)
	return v.Text()
}

func TestMaskStrings(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		maskBy   string
		input    string
		expected string
	}{
		{
			name:     "keeps first group",
			patterns: []string{`(password=)(\S+)`},
			input:    "mysql -u root password=hunter2 -h db",
			expected: "mysql -u root password=****** -h db",
		},
		{
			name:     "every occurrence",
			patterns: []string{`(--token )(\S+)`},
			input:    "cli --token abc --token def",
			expected: "cli --token ****** --token ******",
		},
		{
			name:     "no group masks whole match",
			patterns: []string{`secret-\d+`},
			input:    "id secret-42 end",
			expected: "id ****** end",
		},
		{
			name:     "custom mask_by",
			patterns: []string{`(pwd:)(\w+)`},
			maskBy:   "<masked>",
			input:    "pwd:abc",
			expected: "pwd:<masked>",
		},
		{
			name:     "patterns applied in order",
			patterns: []string{`(user=)(\w+)`, `(pass=)(\w+)`},
			input:    "user=bob pass=x",
			expected: "user=****** pass=******",
		},
		{
			name:     "lookahead is supported",
			patterns: []string{`(key=)(?=\w)(\w+)`},
			input:    "key=v",
			expected: "key=******",
		},
		{
			name:     "named group keeps first group",
			patterns: []string{`(?P<k>password=)(\S+)`},
			input:    "x password=hunter2 y",
			expected: "x password=****** y",
		},
		{
			name:     "named group numbered left to right",
			patterns: []string{`(?P<k>key=)(\w+)(;)`},
			input:    "key=abc;",
			expected: "key=******;",
		},
		{
			name:     "named backreference",
			patterns: []string{`(?P<q>')(\w+)(?P=q)`},
			input:    "say 'abc' ok",
			expected: "say '****** ok",
		},
		{
			name:     "no match leaves value",
			patterns: []string{`(password=)(\S+)`},
			input:    "ls -la",
			expected: "ls -la",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := rows(t, `{"cmdline": "`+tt.input+`"}`)
			results := query.Results{query.ResultSet{"processes": {Result: true, Data: data}}}
			cfg := Config{
				MaskBy:             tt.maskBy,
				BlacklistedStrings: []StringRule{{QueryName: "processes", Column: "cmdline", BlacklistedPatterns: tt.patterns}},
			}
			newTestMasker().Mask(results, cfg)
			assert.Equal(t, tt.expected, cell(t, data[0], "cmdline"))
		})
	}
}

func TestTranslatePattern(t *testing.T) {
	tests := []struct {
		pattern  string
		expected string
	}{
		{`(a)(b)`, `(a)(b)`},
		{`(?P<k>a)(b)`, `(a)(b)`},
		{`(x)(?P<k>a)(?P=k)`, `(x)(a)(?:\2)`},
		{`(?:a)(?P<k>b)(?P=k)`, `(?:a)(b)(?:\1)`},
		{`[(](?P<k>a)\((?P=k)`, `[(](a)\((?:\1)`},
		{`[]()](?P<k>a)(?P=k)`, `[]()](a)(?:\1)`},
	}
	for _, tt := range tests {
		got, err := translatePattern(tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.expected, got, tt.pattern)
	}

	for _, bad := range []string{`(?P<k`, `(?P=k)`, `(?P<k>a)(?P=k`} {
		_, err := translatePattern(bad)
		assert.Error(t, err, bad)
	}
}

func TestMaskIdempotent(t *testing.T) {
	data := rows(t, `{"cmdline": "run password=hunter2"}`)
	results := query.Results{query.ResultSet{"processes": {Result: true, Data: data}}}
	cfg := Config{BlacklistedStrings: []StringRule{{QueryName: "processes", Column: "cmdline", BlacklistedPatterns: []string{`(password=)(\S+)`}}}}

	m := newTestMasker()
	m.Mask(results, cfg)
	once := cell(t, data[0], "cmdline")
	m.Mask(results, cfg)
	assert.Equal(t, once, cell(t, data[0], "cmdline"))
	assert.Equal(t, "run password=******", once)
}

func TestMaskStringsBreaksOnFirstBadRow(t *testing.T) {
	data := rows(t,
		`{"cmdline": "password=a"}`,
		`{"other": "x"}`,
		`{"cmdline": "password=c"}`,
	)
	results := query.Results{query.ResultSet{"processes": {Result: true, Data: data}}}
	cfg := Config{BlacklistedStrings: []StringRule{{QueryName: "processes", Column: "cmdline", BlacklistedPatterns: []string{`(password=)(\S+)`}}}}
	newTestMasker().Mask(results, cfg)

	assert.Equal(t, "password=******", cell(t, data[0], "cmdline"))
	assert.Equal(t, "password=c", cell(t, data[2], "cmdline"))
}

func TestMaskStringsNonStringBreaks(t *testing.T) {
	data := rows(t, `{"cmdline": 5}`, `{"cmdline": "password=c"}`)
	results := query.Results{query.ResultSet{"processes": {Result: true, Data: data}}}
	cfg := Config{BlacklistedStrings: []StringRule{{QueryName: "processes", Column: "cmdline", BlacklistedPatterns: []string{`(password=)(\S+)`}}}}
	newTestMasker().Mask(results, cfg)
	assert.Equal(t, "password=c", cell(t, data[1], "cmdline"))
}

func TestMaskWildcard(t *testing.T) {
	a := rows(t, `{"cmdline": "password=a"}`)
	b := rows(t, `{"cmdline": "password=b"}`)
	other := rows(t, `{"cmdline": "password=z"}`)
	results := query.Results{
		query.ResultSet{"a": {Result: true, Data: a}, "failed": {Result: false, Error: "x"}},
		query.ResultSet{"b": {Result: true, Data: b}},
	}
	untouched := query.Results{query.ResultSet{"other": {Result: true, Data: other}}}

	wildcard := Config{BlacklistedStrings: []StringRule{{QueryName: "*", Column: "cmdline", BlacklistedPatterns: []string{`(password=)(\S+)`}}}}
	newTestMasker().Mask(results, wildcard)
	assert.Equal(t, "password=******", cell(t, a[0], "cmdline"))
	assert.Equal(t, "password=******", cell(t, b[0], "cmdline"))

	named := Config{BlacklistedStrings: []StringRule{{QueryName: "a", Column: "cmdline", BlacklistedPatterns: []string{`(password=)(\S+)`}}}}
	newTestMasker().Mask(untouched, named)
	assert.Equal(t, "password=z", cell(t, other[0], "cmdline"))
}

func TestMaskObjects(t *testing.T) {
	data := rows(t,
		`{"env": [
			{"name": "DB_PASSWORD", "value": "hunter2", "extra": "e"},
			{"name": "PATH", "value": "/usr/bin"},
			[{"name": "API_KEY", "value": "k"}]
		]}`,
		`{"env": ""}`,
		`{"env": {"name": "API_KEY", "value": "k2"}}`,
	)
	results := query.Results{query.ResultSet{"docker_env": {Result: true, Data: data}}}
	cfg := Config{BlacklistedObjects: []ObjectRule{{
		QueryName:           "docker_env",
		Column:              "env",
		AttributeToCheck:    "name",
		BlacklistedPatterns: []value.Value{value.String("DB_PASSWORD"), value.String("API_KEY")},
		AttributesToMask:    []string{"value", "absent"},
	}}}
	newTestMasker().Mask(results, cfg)

	env, _ := data[0].Get("env")
	items, _ := env.AsList()
	assert.Equal(t, "******", cell(t, items[0], "value"))
	assert.Equal(t, "e", cell(t, items[0], "extra"))
	assert.Equal(t, "/usr/bin", cell(t, items[1], "value"))
	nested, _ := items[2].AsList()
	assert.Equal(t, "******", cell(t, nested[0], "value"))
	_, added := items[0].Get("absent")
	assert.False(t, added)

	obj, _ := data[2].Get("env")
	assert.Equal(t, "******", cell(t, obj, "value"))
}

func TestMaskObjectsBreaksOnNonBlankString(t *testing.T) {
	data := rows(t,
		`{"env": "not structured"}`,
		`{"env": {"name": "API_KEY", "value": "k"}}`,
	)
	results := query.Results{query.ResultSet{"docker_env": {Result: true, Data: data}}}
	cfg := Config{BlacklistedObjects: []ObjectRule{{
		QueryName: "docker_env", Column: "env", AttributeToCheck: "name",
		BlacklistedPatterns: []value.Value{value.String("API_KEY")}, AttributesToMask: []string{"value"},
	}}}
	newTestMasker().Mask(results, cfg)
	obj, _ := data[1].Get("env")
	assert.Equal(t, "k", cell(t, obj, "value"))
}

func TestMaskSkipsMalformedRules(t *testing.T) {
	data := rows(t, `{"cmdline": "password=a token=b"}`)
	results := query.Results{query.ResultSet{"p": {Result: true, Data: data}}}
	cfg := Config{BlacklistedStrings: []StringRule{
		{QueryName: "", Column: "cmdline", BlacklistedPatterns: []string{`(password=)(\S+)`}},
		{QueryName: "p", Column: "cmdline", BlacklistedPatterns: []string{`(unclosed`, `(token=)(\S+)`}},
	}}
	assert.NotPanics(t, func() { newTestMasker().Mask(results, cfg) })
	assert.Equal(t, "password=a token=******", cell(t, data[0], "cmdline"))
}

func TestMaskNilResults(t *testing.T) {
	cfg := Config{BlacklistedStrings: []StringRule{{QueryName: "*", Column: "c", BlacklistedPatterns: []string{"x"}}}}
	assert.NotPanics(t, func() {
		newTestMasker().Mask(nil, cfg)
		newTestMasker().Mask(query.Results{query.ResultSet{"q": nil}}, cfg)
	})
}

func TestDecode(t *testing.T) {
	doc, err := value.ParseYAML([]byte(`
mask_by: "<x>"
blacklisted_strings:
  - query_name: processes
    column: cmdline
    blacklisted_patterns: ['(p=)(\S+)']
  - column: missing_query
  - "not a rule"
blacklisted_objects:
  - query_name: '*'
    column: env
    attribute_to_check: name
    blacklisted_patterns: [SECRET, 42]
    attributes_to_mask: [value]
  - query_name: x
    column: env
`))
	require.NoError(t, err)
	cfg, errs := Decode(doc)
	assert.Equal(t, "<x>", cfg.MaskBy)
	require.Len(t, cfg.BlacklistedStrings, 1)
	require.Len(t, cfg.BlacklistedObjects, 1)
	assert.True(t, cfg.BlacklistedObjects[0].BlacklistedPatterns[1].Equal(value.Int(42)))
	assert.Len(t, errs, 3)
	var rerr *RuleError
	assert.ErrorAs(t, errs[0], &rerr)
	assert.Equal(t, "string", rerr.Kind)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	top := filepath.Join(dir, "top.mask")
	writeFile(t, top, "mask:\n  - '*':\n      - hostwatch.mask\n      - hostwatch.extra\n")
	writeFile(t, filepath.Join(dir, "hostwatch", "mask.yaml"), `
blacklisted_strings:
  - query_name: processes
    column: cmdline
    blacklisted_patterns: ['(password=)(\S+)']
`)
	writeFile(t, filepath.Join(dir, "hostwatch", "extra.yaml"), `
mask_by: "[redacted]"
blacklisted_strings:
  - query_name: '*'
    column: cmdline
    blacklisted_patterns: ['(token=)(\S+)']
`)

	log, _ := logger.New("test", logger.Options{Format: logger.JSONLogFormat})
	c, err := cache.New()
	require.NoError(t, err)
	loader := NewLoader("", nil, c, log)

	cfg, err := loader.Load(top)
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", cfg.MaskBy)
	assert.Len(t, cfg.BlacklistedStrings, 2)

	// served from cache once the sources are gone
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "hostwatch")))
	cached, err := loader.Load(top)
	require.NoError(t, err)
	assert.Equal(t, cfg, cached)
}

func TestLoaderFailures(t *testing.T) {
	dir := t.TempDir()
	log, _ := logger.New("test", logger.Options{Format: logger.JSONLogFormat})
	loader := NewLoader("", nil, nil, log)

	_, err := loader.Load(filepath.Join(dir, "absent"))
	assert.ErrorIs(t, err, ErrMaskConfigLoad)

	top := filepath.Join(dir, "top.mask")
	writeFile(t, top, "mask:\n  - '*':\n      - missing\n")
	_, err = loader.Load(top)
	assert.ErrorIs(t, err, ErrMaskConfigLoad)

	writeFile(t, top, "mask:\n  - '*':\n      - listdoc\n")
	writeFile(t, filepath.Join(dir, "listdoc.yaml"), "- a\n")
	_, err = loader.Load(top)
	assert.ErrorIs(t, err, ErrMaskConfigLoad)
}

func TestFilterSensitive(t *testing.T) {
	doc, err := value.ParseYAML([]byte(`
id: web01
db_password: x
returner:
  splunk:
    - token: abc
      indexer: splunk.example.com
      access_token_file: /etc/t
`))
	require.NoError(t, err)
	got := FilterSensitive(doc, DefaultSensitivePatterns)

	want, err := value.ParseYAML([]byte(`
id: web01
returner:
  splunk:
    - indexer: splunk.example.com
`))
	require.NoError(t, err)
	assert.True(t, want.Equal(got), got.Text())

	_, still := doc.Get("db_password")
	assert.True(t, still)
}
