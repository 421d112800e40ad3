package query

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/kumarabd/hostwatch/pkg/event"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// Result is the outcome of a single engine query
type Result struct {
	Data   []value.Value `json:"data"`
	Result bool          `json:"result"`
	Error  string        `json:"error,omitempty"`
}

// ResultSet maps a query name to its result
type ResultSet map[string]*Result

// Names returns the query names of the set in sorted order
func (rs ResultSet) Names() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Results is the ordered output of one query group run
type Results []ResultSet

// ParseResults decodes a JSON document of the form
// [{"query_name": {"data": [...], "result": true}}, ...]
func ParseResults(data []byte) (Results, error) {
	var out Results
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Timing captures how long each query in a run took
type Timing struct {
	QueryRunLength map[string]float64
	ScheduleTime   time.Time
}

// Event renders the timing as a log-kind event
func (t Timing) Event() event.Event {
	lengths := make(map[string]value.Value, len(t.QueryRunLength))
	for name, secs := range t.QueryRunLength {
		lengths[name] = value.Float(secs)
	}
	return event.Event{
		"query_run_length": value.Map(lengths),
		"schedule_time":    value.Number(event.EpochTime(t.ScheduleTime)),
	}
}
