package mask

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/hostwatch/pkg/cache"
	"github.com/kumarabd/hostwatch/pkg/merge"
	"github.com/kumarabd/hostwatch/pkg/topfile"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// ErrMaskConfigLoad wraps every failure to produce a mask configuration
var ErrMaskConfigLoad = errors.New("mask configuration load failed")

// TopKey is the top file key listing mask sources
const TopKey = "mask"

// Loader resolves a mask top file into a merged Config
type Loader struct {
	base    string
	matcher topfile.Matcher
	cache   *cache.Handler
	log     *logger.Handler
}

// NewLoader creates a loader resolving sources under base. An empty base
// resolves sources next to the top file.
func NewLoader(base string, matcher topfile.Matcher, c *cache.Handler, log *logger.Handler) *Loader {
	return &Loader{base: base, matcher: matcher, cache: c, log: log}
}

// Load returns the merged configuration named by the top file at topPath
func (l *Loader) Load(topPath string) (Config, error) {
	key := "mask:" + topPath
	if cached, ok := l.cache.Get(key); ok {
		if cfg, ok := cached.(Config); ok {
			return cfg, nil
		}
	}

	sources, err := topfile.Load(topPath, TopKey, l.matcher)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrMaskConfigLoad, err)
	}
	base := l.base
	if base == "" {
		base = filepath.Dir(topPath)
	}

	docs := make([]value.Value, 0, len(sources))
	for _, path := range topfile.Resolve(base, sources) {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: could not find file %s: %v", ErrMaskConfigLoad, path, err)
		}
		doc, err := value.ParseYAML(data)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrMaskConfigLoad, path, err)
		}
		if !doc.IsMap() {
			return Config{}, fmt.Errorf("%w: file data is not formed as a mapping: %s", ErrMaskConfigLoad, path)
		}
		docs = append(docs, doc)
	}

	merged, err := merge.All(true, docs...)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrMaskConfigLoad, err)
	}
	cfg, ruleErrs := Decode(merged)
	for _, rerr := range ruleErrs {
		l.log.Warn().Err(rerr).Str("top", topPath).Msg("Dropping mask rule")
	}
	l.log.Debug().Str("top", topPath).Int("string_rules", len(cfg.BlacklistedStrings)).Int("object_rules", len(cfg.BlacklistedObjects)).Msg("Loaded mask configuration")

	l.cache.Set(key, cfg)
	return cfg, nil
}
