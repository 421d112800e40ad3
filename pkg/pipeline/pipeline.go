package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kumarabd/gokit/logger"

	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/batcher"
	"github.com/kumarabd/hostwatch/pkg/delivery"
	"github.com/kumarabd/hostwatch/pkg/event"
	"github.com/kumarabd/hostwatch/pkg/mask"
	"github.com/kumarabd/hostwatch/pkg/normalizer"
	"github.com/kumarabd/hostwatch/pkg/query"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// ErrUnknownKind is returned for a request kind the pipeline cannot normalize
var ErrUnknownKind = errors.New("unknown record kind")

// Kind selects how request records are normalized
type Kind string

const (
	KindQuery      Kind = "query"
	KindFileChange Kind = "file_change"
	KindAudit      Kind = "audit"
	KindLog        Kind = "log"
)

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindQuery, KindFileChange, KindAudit, KindLog:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Request is one batch of records to deliver
type Request struct {
	Kind  Kind   `json:"kind"`
	Retry bool   `json:"retry"`
	JobID string `json:"job_id"`

	// Queries holds engine results for KindQuery
	Queries query.Results `json:"queries,omitempty"`
	// Records holds file change records for KindFileChange
	Records []value.Value `json:"records,omitempty"`
	// Audit holds the audit report for KindAudit
	Audit value.Value `json:"audit,omitempty"`
	// Logs and Events feed KindLog
	Logs   []normalizer.Record `json:"logs,omitempty"`
	Events []event.Event       `json:"events,omitempty"`

	// Mask is the path of a mask top file applied to Queries
	Mask string `json:"mask,omitempty"`
}

// Summary reports what a Deliver call did
type Summary struct {
	Kind       Kind     `json:"kind"`
	Collectors int      `json:"collectors"`
	Skipped    int      `json:"skipped"`
	Events     int      `json:"events"`
	Batches    int      `json:"batches"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Delivered reports whether every batch reached a collector. A run where
// every collector was skipped delivered nothing.
func (s Summary) Delivered() bool {
	if s.Collectors > 0 && s.Skipped == s.Collectors {
		return false
	}
	return s.Failed == 0 && len(s.Errors) == 0
}

func (s *Summary) fail(err error) {
	s.Errors = append(s.Errors, err.Error())
}

// Options configures a Pipeline
type Options struct {
	Collectors []delivery.Config
	Identity   normalizer.Identity
	Lookup     normalizer.Lookup
	Hostname   normalizer.HostnameFunc
	Retry      delivery.RetryPolicy
	Masker     *mask.Masker
	MaskLoader *mask.Loader
}

// Pipeline normalizes, masks, batches and delivers records to every
// configured collector
type Pipeline struct {
	opts   Options
	metric *metrics.Handler
	log    *logger.Handler
}

// New creates a pipeline
func New(opts Options, m *metrics.Handler, log *logger.Handler) *Pipeline {
	if opts.Masker == nil {
		opts.Masker = mask.NewMasker(log, m)
	}
	return &Pipeline{opts: opts, metric: m, log: log}
}

// Deliver sends req to every collector. It always returns; failures are
// logged and reported in the summary.
func (p *Pipeline) Deliver(ctx context.Context, req Request) (sum Summary) {
	sum.Kind = req.Kind
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("panic", fmt.Sprint(r)).Str("kind", string(req.Kind)).Msg("Delivery pipeline aborted")
			sum.fail(fmt.Errorf("pipeline aborted: %v", r))
		}
	}()

	if _, err := ParseKind(string(req.Kind)); err != nil {
		p.log.Error().Err(err).Msg("Rejecting delivery request")
		sum.fail(err)
		return sum
	}

	host, err := normalizer.Resolve(p.opts.Identity, p.opts.Hostname)
	if err != nil {
		p.log.Error().Err(err).Msg("Could not resolve host identity")
		sum.fail(err)
		return sum
	}

	if req.Kind == KindQuery && req.Mask != "" {
		p.applyMask(req)
	}

	policy := delivery.RetryPolicy{}
	if req.Retry {
		policy = p.opts.Retry
		if policy == (delivery.RetryPolicy{}) {
			policy = delivery.DefaultRetryPolicy()
		}
		policy.Enabled = true
		if policy.Max < 0 {
			policy.Max = 0
		}
	}

	for i := range p.opts.Collectors {
		cfg := p.opts.Collectors[i]
		sum.Collectors++
		if err := p.deliverTo(ctx, &cfg, host, policy, req, &sum); err != nil {
			if errors.Is(err, delivery.ErrConfigurationMissing) {
				p.log.Warn().Err(err).Int("collector", i).Msg("Skipping collector")
				sum.Skipped++
				continue
			}
			p.log.Error().Err(err).Int("collector", i).Msg("Delivery to collector failed")
			sum.fail(err)
		}
	}
	return sum
}

// applyMask masks req.Queries in place. A mask configuration that cannot be
// loaded leaves the results untouched.
func (p *Pipeline) applyMask(req Request) {
	if p.opts.MaskLoader == nil {
		p.log.Warn().Str("mask", req.Mask).Msg("No mask loader configured, results left unmasked")
		return
	}
	cfg, err := p.opts.MaskLoader.Load(req.Mask)
	if err != nil {
		p.log.Error().Err(err).Str("mask", req.Mask).Msg("An error occurred while loading the mask configuration")
		p.metric.IncMaskRuleErrors("load")
		return
	}
	if cfg.Empty() {
		return
	}
	p.opts.Masker.Mask(req.Queries, cfg)
}

func (p *Pipeline) deliverTo(ctx context.Context, cfg *delivery.Config, host normalizer.Host, policy delivery.RetryPolicy, req Request, sum *Summary) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	n := normalizer.New(host, normalizer.Options{
		Index:                cfg.Index,
		Sourcetype:           sourcetype(cfg, req.Kind),
		CustomFields:         cfg.CustomFields,
		IndexExtractedFields: cfg.IndexExtractedFields,
	}, p.opts.Lookup, p.metric, p.log)

	client, err := delivery.NewClient(cfg, cfg.Hosts(p.opts.Identity.NoGateway()), p.metric, p.log)
	if err != nil {
		return fmt.Errorf("build delivery client: %w", err)
	}
	sender := &countingSender{next: client.NewSession(policy)}
	b := batcher.New(sender, cfg.MaxBatchBytes, p.metric, p.log)

	for _, env := range envelopes(n, req) {
		if err := b.Append(ctx, env); err != nil {
			p.log.Warn().Err(err).Msg("Dropping event")
			continue
		}
		sum.Events++
	}
	b.Flush(ctx)

	sum.Batches += sender.sent
	sum.Failed += sender.failed
	return nil
}

// envelopes normalizes the records of req
func envelopes(n *normalizer.Normalizer, req Request) []event.Envelope {
	switch req.Kind {
	case KindQuery:
		return n.QueryResults(req.JobID, req.Queries)
	case KindFileChange:
		return n.FileChanges(req.Records)
	case KindAudit:
		return n.AuditResults(req.JobID, req.Audit)
	case KindLog:
		out := make([]event.Envelope, 0, len(req.Logs)+len(req.Events))
		for _, rec := range req.Logs {
			out = append(out, n.LogRecord(rec))
		}
		for _, ev := range req.Events {
			out = append(out, n.Data(ev))
		}
		return out
	}
	return nil
}

func sourcetype(cfg *delivery.Config, kind Kind) string {
	switch kind {
	case KindQuery:
		return cfg.Sourcetypes.Query
	case KindFileChange:
		return cfg.Sourcetypes.FileChange
	case KindAudit:
		return cfg.Sourcetypes.Audit
	default:
		return cfg.Sourcetypes.Log
	}
}

// countingSender tallies batch outcomes
type countingSender struct {
	next   batcher.Sender
	sent   int
	failed int
}

func (c *countingSender) Send(ctx context.Context, body []byte) bool {
	ok := c.next.Send(ctx, body)
	c.sent++
	if !ok {
		c.failed++
	}
	return ok
}
