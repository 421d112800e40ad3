package normalizer

import (
	"strings"
	"time"

	"github.com/kumarabd/gokit/logger"
	"golang.org/x/text/unicode/norm"

	"github.com/kumarabd/hostwatch/internal/metrics"
	"github.com/kumarabd/hostwatch/pkg/event"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// Lookup resolves custom field names against agent configuration
type Lookup interface {
	Lookup(key string) (value.Value, bool)
}

// StaticLookup serves custom fields from a fixed map
type StaticLookup map[string]value.Value

func (s StaticLookup) Lookup(key string) (value.Value, bool) {
	v, ok := s[key]
	return v, ok
}

// Options control the envelope fields of every produced event
type Options struct {
	Index                string
	Sourcetype           string
	CustomFields         []string
	IndexExtractedFields []string
}

// Normalizer turns raw records into envelopes for one collector
type Normalizer struct {
	host     Host
	opts     Options
	metadata event.Event
	metric   *metrics.Handler
	log      *logger.Handler
	now      func() time.Time
}

// New builds a normalizer. Custom fields are looked up once.
func New(host Host, opts Options, lookup Lookup, m *metrics.Handler, log *logger.Handler) *Normalizer {
	n := &Normalizer{host: host, opts: opts, metric: m, log: log, now: time.Now}
	n.metadata = n.buildMetadata(lookup)
	return n
}

func (n *Normalizer) buildMetadata(lookup Lookup) event.Event {
	md := event.Event{}
	md.SetString("master", n.host.Master)
	md.SetString("minion_id", n.host.ID)
	md.SetString("dest_host", n.host.Name)
	md.SetString("dest_ip", n.host.IPv4)
	md.SetString("dest_fqdn", n.host.FQDN)
	md.SetString("system_uuid", n.host.SystemUUID)
	for k, v := range n.host.Cloud {
		md.SetString(k, v)
	}
	if lookup == nil {
		return md
	}
	for _, name := range n.opts.CustomFields {
		raw, ok := lookup.Lookup(name)
		if !ok {
			continue
		}
		if v, ok := customValue(raw); ok {
			md.Set("custom_"+name, v)
		}
	}
	return md
}

// customValue keeps scalars and joins lists of scalars with commas
func customValue(v value.Value) (value.Value, bool) {
	if v.IsScalar() {
		return v, true
	}
	items, ok := v.AsList()
	if !ok {
		return value.Value{}, false
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsScalar() {
			return value.Value{}, false
		}
		parts = append(parts, item.Text())
	}
	return value.String(strings.Join(parts, ",")), true
}

// Host returns the resolved host identity
func (n *Normalizer) Host() Host { return n.host }

// wrap finishes ev with metadata and builds its envelope
func (n *Normalizer) wrap(ev event.Event) event.Envelope {
	ev.Update(n.metadata)
	ev.StripEmpty()
	return event.Envelope{
		Host:       n.host.Name,
		Index:      n.opts.Index,
		Sourcetype: n.opts.Sourcetype,
		Event:      ev,
		Fields:     event.IndexFields(ev, n.opts.IndexExtractedFields),
	}
}

// flatten copies a record into an event. Nested values other than string
// lists become compact JSON strings.
func flatten(record value.Value) event.Event {
	ev := event.Event{}
	for _, k := range record.Keys() {
		v, _ := record.Get(k)
		ev[k] = flatValue(v)
	}
	return ev
}

func flatValue(v value.Value) value.Value {
	switch {
	case v.IsMap():
		return value.String(v.Text())
	case v.IsList():
		items, _ := v.AsList()
		for _, item := range items {
			if !item.IsString() {
				return value.String(v.Text())
			}
		}
		return v.Clone()
	default:
		return v
	}
}

// Record is a log line emitted by the agent
type Record struct {
	Message    string    `json:"message" yaml:"message"`
	Level      string    `json:"level" yaml:"level"`
	Timestamp  string    `json:"timestamp" yaml:"timestamp"`
	LoggerName string    `json:"loggername" yaml:"loggername"`
	Time       time.Time `json:"time" yaml:"time"`
}

// LogRecord builds the envelope for one agent log line
func (n *Normalizer) LogRecord(rec Record) event.Envelope {
	ev := event.Event{}
	ev.SetString("message", norm.NFC.String(rec.Message))
	ev.SetString("level", rec.Level)
	ev.SetString("timestamp", rec.Timestamp)
	ev.SetString("loggername", rec.LoggerName)
	t := rec.Time
	if t.IsZero() {
		t = n.now()
	}
	env := n.wrap(ev)
	env.Time = event.EpochTime(t)
	n.metric.IncEventsNormalized("log", 1)
	return env
}

// Data builds a log-kind envelope from arbitrary structured data
func (n *Normalizer) Data(data event.Event) event.Envelope {
	ev := event.Event{}
	for k, v := range data {
		ev[k] = flatValue(v)
	}
	env := n.wrap(ev)
	env.Time = event.EpochTime(n.now())
	n.metric.IncEventsNormalized("log", 1)
	return env
}
