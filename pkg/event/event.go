package event

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/kumarabd/hostwatch/pkg/value"
)

// Event is one normalized observation. Values are scalars or string lists.
type Event map[string]value.Value

// Set stores v under key
func (e Event) Set(key string, v value.Value) {
	e[key] = v
}

// SetString stores s under key
func (e Event) SetString(key, s string) {
	e[key] = value.String(s)
}

// Update copies every entry of other into e
func (e Event) Update(other Event) {
	for k, v := range other {
		e[k] = v
	}
}

// StripEmpty removes keys whose value is the empty string
func (e Event) StripEmpty() {
	for _, k := range e.emptyKeys() {
		delete(e, k)
	}
}

func (e Event) emptyKeys() []string {
	var keys []string
	for k, v := range e {
		if s, ok := v.AsString(); ok && s == "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Clone returns a deep copy
func (e Event) Clone() Event {
	out := make(Event, len(e))
	for k, v := range e {
		out[k] = v.Clone()
	}
	return out
}

// Envelope is the wire object posted to the collector
type Envelope struct {
	Time       json.Number       `json:"time,omitempty"`
	Host       string            `json:"host"`
	Index      string            `json:"index"`
	Sourcetype string            `json:"sourcetype"`
	Event      Event             `json:"event"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// EpochTime formats t as epoch seconds with a millisecond fraction
func EpochTime(t time.Time) json.Number {
	return json.Number(strconv.FormatFloat(float64(t.UnixMilli())/1000, 'f', 3, 64))
}

// IndexFields returns the string form of every named scalar value in ev.
// It returns nil when none apply.
func IndexFields(ev Event, names []string) map[string]string {
	var fields map[string]string
	for _, name := range names {
		v, ok := ev[name]
		if !ok || v.IsList() || v.IsMap() {
			continue
		}
		if fields == nil {
			fields = make(map[string]string)
		}
		fields[name] = v.Text()
	}
	return fields
}
