package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/kumarabd/hostwatch/pkg/event"
	"github.com/kumarabd/hostwatch/pkg/mask"
	"github.com/kumarabd/hostwatch/pkg/normalizer"
	"github.com/kumarabd/hostwatch/pkg/pipeline"
	"github.com/kumarabd/hostwatch/pkg/query"
	"github.com/kumarabd/hostwatch/pkg/topfile"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// QueryTopKey is the top file key listing query definition sources
const QueryTopKey = "queries"

// jobIDLayout mirrors the agent job id format
const jobIDLayout = "20060102150405.000000"

// definitions loads the merged query definitions named by the query top file
func (h *Handler) definitions() (value.Value, error) {
	top := h.config.Query.TopFile
	key := "queries:" + top
	if cached, ok := h.cache.Get(key); ok {
		if defs, ok := cached.(value.Value); ok {
			return defs, nil
		}
	}

	sources, err := topfile.Load(top, QueryTopKey, nil)
	if err != nil {
		return value.Value{}, err
	}
	base := h.config.Query.Base
	if base == "" {
		base = filepath.Dir(top)
	}
	defs, err := query.LoadDefinitions(topfile.Resolve(base, sources))
	if err != nil {
		return value.Value{}, err
	}
	h.cache.Set(key, defs)
	return defs, nil
}

// RunGroup runs every query of group, delivers the results and then the
// per-query timing as a log event
func (h *Handler) RunGroup(ctx context.Context, group string) (pipeline.Summary, error) {
	defs, err := h.definitions()
	if err != nil {
		h.log.Error().Err(err).Str("group", group).Msg("Could not load query definitions")
		return pipeline.Summary{Kind: pipeline.KindQuery}, err
	}
	queries := query.Group(defs, group)
	if len(queries) == 0 {
		return pipeline.Summary{Kind: pipeline.KindQuery}, fmt.Errorf("no queries defined for group %q", group)
	}

	jobID := h.now().UTC().Format(jobIDLayout)
	h.log.Info().Str("group", group).Str("job_id", jobID).Int("queries", len(queries)).Msg("Running query group")

	results, timing := h.executor.Execute(ctx, queries)
	sum := h.Deliver(ctx, pipeline.Request{Kind: pipeline.KindQuery, JobID: jobID, Queries: results})

	timingEvent := timing.Event()
	timingEvent.SetString("query_group", group)
	if ts := h.Deliver(ctx, pipeline.Request{Kind: pipeline.KindLog, Events: []event.Event{timingEvent}}); !ts.Delivered() {
		h.log.Warn().Str("group", group).Msg("Query timing could not be delivered")
	}
	return sum, nil
}

// ConfigDocument renders the loaded configuration without sensitive keys
func (h *Handler) ConfigDocument() (value.Value, error) {
	raw, err := json.Marshal(h.config)
	if err != nil {
		return value.Value{}, err
	}
	doc, err := value.ParseJSON(raw)
	if err != nil {
		return value.Value{}, err
	}
	patterns := h.config.Publish.SensitivePatterns
	if len(patterns) == 0 {
		patterns = mask.DefaultSensitivePatterns
	}
	return mask.FilterSensitive(doc, patterns), nil
}

// PublishConfig delivers the filtered configuration as one log record
func (h *Handler) PublishConfig(ctx context.Context) (pipeline.Summary, error) {
	doc, err := h.ConfigDocument()
	if err != nil {
		return pipeline.Summary{Kind: pipeline.KindLog}, err
	}
	name := h.config.Publish.LoggerName
	if name == "" {
		name = "hostwatch.config"
	}
	now := h.now()
	rec := normalizer.Record{
		Message:    doc.Text(),
		Level:      "INFO",
		Timestamp:  now.UTC().Format("2006-01-02 15:04:05.000"),
		LoggerName: name,
		Time:       now,
	}
	return h.Deliver(ctx, pipeline.Request{Kind: pipeline.KindLog, Logs: []normalizer.Record{rec}}), nil
}
