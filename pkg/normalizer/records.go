package normalizer

import (
	"strings"

	"github.com/kumarabd/hostwatch/pkg/event"
	"github.com/kumarabd/hostwatch/pkg/merge"
	"github.com/kumarabd/hostwatch/pkg/query"
	"github.com/kumarabd/hostwatch/pkg/value"
)

// QueryResults builds one envelope per result row. A failed query yields a
// single envelope carrying query_result false and the error text.
func (n *Normalizer) QueryResults(jobID string, results query.Results) []event.Envelope {
	var out []event.Envelope
	for _, rs := range results {
		for _, name := range rs.Names() {
			res := rs[name]
			if res == nil {
				continue
			}
			if !res.Result {
				ev := event.Event{}
				ev.SetString("query", name)
				ev.SetString("job_id", jobID)
				ev.Set("query_result", value.Bool(false))
				ev.SetString("error", res.Error)
				out = append(out, n.wrap(ev))
				continue
			}
			for _, row := range res.Data {
				if !row.IsMap() {
					n.log.Debug().Str("query", name).Msg("Skipping non-mapping result row")
					continue
				}
				ev := flatten(row)
				ev.SetString("query", name)
				ev.SetString("job_id", jobID)
				out = append(out, n.wrap(ev))
			}
		}
	}
	n.metric.IncEventsNormalized("query", len(out))
	return out
}

var linuxActions = map[string]string{
	"IN_ACCESS":        "read",
	"IN_ATTRIB":        "acl_modified",
	"IN_CLOSE_NOWRITE": "read",
	"IN_CLOSE_WRITE":   "read",
	"IN_CREATE":        "created",
	"IN_DELETE":        "deleted",
	"IN_DELETE_SELF":   "deleted",
	"IN_MODIFY":        "modified",
	"IN_MOVE_SELF":     "modified",
	"IN_MOVED_FROM":    "modified",
	"IN_MOVED_TO":      "modified",
	"IN_OPEN":          "read",
	"IN_MOVE":          "modified",
	"IN_CLOSE":         "read",
}

var windowsActions = map[string]string{
	"Delete":                       "deleted",
	"Read Control":                 "read",
	"Write DAC":                    "acl_modified",
	"Write Owner":                  "modified",
	"Synchronize":                  "modified",
	"Access Sys Sec":               "read",
	"Read Data":                    "read",
	"Write Data":                   "modified",
	"Append Data":                  "modified",
	"Read EA":                      "read",
	"Write EA":                     "modified",
	"Execute/Traverse":             "read",
	"Read Attributes":              "read",
	"Write Attributes":             "acl_modified",
	"Query Key Value":              "read",
	"Set Key Value":                "modified",
	"Create Sub Key":               "created",
	"Enumerate Sub-Keys":           "read",
	"Notify About Changes to Keys": "read",
	"Create Link":                  "created",
	"Print":                        "read",
	"Basic info change":            "modified",
	"Compression change":           "modified",
	"Data extend":                  "modified",
	"EA change":                    "modified",
	"File create":                  "created",
	"File delete":                  "deleted",
}

// DefaultWindowsWatchConfig names the watcher config reported for Windows
// journal records that carry none
const DefaultWindowsWatchConfig = "hostwatch_pulsar_win_config.yaml"

func lookupAction(table map[string]string, change string) string {
	if a, ok := table[change]; ok {
		return a
	}
	return "unknown"
}

// text returns the text of record[key], or "" when absent
func text(record value.Value, key string) string {
	v, ok := record.Get(key)
	if !ok {
		return ""
	}
	return v.Text()
}

// truthy follows the watcher's notion of a present value
func truthy(v value.Value, ok bool) bool {
	if !ok {
		return false
	}
	switch v.Kind() {
	case value.KindNull:
		return false
	case value.KindBool:
		b, _ := v.AsBool()
		return b
	case value.KindString, value.KindList, value.KindMap:
		return v.Len() > 0
	case value.KindNumber:
		f, _ := v.Float()
		return f != 0
	}
	return false
}

// FileChanges builds envelopes from file-integrity watcher records after
// dropping duplicates. IN_IGNORED records are skipped.
func (n *Normalizer) FileChanges(records []value.Value) []event.Envelope {
	var out []event.Envelope
	for _, rec := range merge.DedupList(records) {
		if !rec.IsMap() {
			n.log.Debug().Msg("Skipping non-mapping file change record")
			continue
		}
		var ev event.Event
		if _, linux := rec.Get("change"); linux {
			ev = linuxChange(rec)
		} else {
			ev = windowsChange(rec)
		}
		if ev == nil {
			continue
		}
		out = append(out, n.wrap(ev))
	}
	n.metric.IncEventsNormalized("file_change", len(out))
	return out
}

func linuxChange(rec value.Value) event.Event {
	parts := strings.Split(text(rec, "change"), "|")
	change := parts[0]
	if change == "IN_IGNORED" {
		return nil
	}
	objectType := "file"
	if len(parts) == 2 {
		objectType = "directory"
	}

	ev := event.Event{}
	ev.SetString("action", lookupAction(linuxActions, change))
	ev.SetString("change_type", "filesystem")
	ev.SetString("object_category", objectType)
	ev.SetString("object_path", text(rec, "path"))
	ev.SetString("file_name", text(rec, "name"))
	ev.SetString("file_path", text(rec, "tag"))
	ev.SetString("pulsar_config", text(rec, "pulsar_config"))
	if contents, ok := rec.Get("contents"); ok {
		ev.Set("contents", flatValue(contents))
	}

	stats, ok := rec.Get("stats")
	if !truthy(stats, ok) || !stats.IsMap() {
		return ev
	}
	copyStat := func(dst, src string) {
		if v, ok := stats.Get(src); ok {
			ev.Set(dst, flatValue(v))
		}
	}
	copyStat("object_id", "inode")
	copyStat("file_acl", "mode")
	copyStat("file_create_time", "ctime")
	copyStat("file_modify_time", "mtime")
	copyStat("user", "user")
	copyStat("group", "group")
	if size, ok := stats.Get("size"); ok {
		if f, ok := size.Float(); ok {
			ev.Set("file_size", value.Float(f/1024.0))
		}
	}
	if objectType == "file" {
		addChecksum(ev, rec)
	}
	return ev
}

func addChecksum(ev event.Event, rec value.Value) {
	chk, ok := rec.Get("checksum")
	if !truthy(chk, ok) {
		return
	}
	ev.Set("file_hash", flatValue(chk))
	hashType := text(rec, "checksum_type")
	if hashType == "" {
		hashType = "unknown"
	}
	ev.SetString("file_hash_type", hashType)
}

func windowsChange(rec value.Value) event.Event {
	ev := event.Event{}
	ev.SetString("change_type", "filesystem")

	if accesses, ok := rec.Get("Accesses"); truthy(accesses, ok) {
		objectType := "file"
		if text(rec, "Hash") == "Item is a directory" {
			objectType = "directory"
		}
		objectName := text(rec, "Object Name")
		dir, base := splitWindowsPath(objectName)
		ev.SetString("action", lookupAction(windowsActions, accesses.Text()))
		ev.SetString("object_category", objectType)
		ev.SetString("object_path", objectName)
		ev.SetString("file_name", base)
		ev.SetString("file_path", dir)
		ev.SetString("pulsar_config", text(rec, "pulsar_config"))
		return ev
	}

	// journal records list their reasons; unknown reasons are reported verbatim
	reason, _ := rec.Get("Reason")
	var reasons []string
	if items, ok := reason.AsList(); ok {
		for _, item := range items {
			reasons = append(reasons, item.Text())
		}
	} else if reason.IsString() {
		reasons = []string{reason.Text()}
	}
	actions := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if a, ok := windowsActions[r]; ok {
			actions = append(actions, a)
		} else {
			actions = append(actions, r)
		}
	}
	cfg := text(rec, "pulsar_config")
	if cfg == "" {
		cfg = DefaultWindowsWatchConfig
	}
	ev.SetString("action", strings.Join(actions, ", "))
	ev.SetString("object_category", "file")
	ev.SetString("object_path", text(rec, "Full path"))
	ev.SetString("file_name", text(rec, "File name"))
	ev.SetString("file_path", text(rec, "tag"))
	ev.SetString("pulsar_config", cfg)
	ev.SetString("TimeGenerated", text(rec, "Time stamp"))
	addChecksum(ev, rec)
	return ev
}

// splitWindowsPath splits on the last path separator of either style
func splitWindowsPath(p string) (dir, base string) {
	i := strings.LastIndexAny(p, `\/`)
	if i < 0 {
		return "", p
	}
	dir = strings.TrimRight(p[:i], `\/`)
	if dir == "" || strings.HasSuffix(p[:i+1], `:\`) {
		dir = p[:i+1]
	}
	return dir, p[i+1:]
}

// AuditResults builds envelopes from an audit run. data must be a mapping
// with optional Failure, Success and Compliance entries.
func (n *Normalizer) AuditResults(jobID string, data value.Value) []event.Envelope {
	if !data.IsMap() {
		n.log.Error().Str("kind", data.Kind().String()).Msg("Audit data was not formed as a mapping")
		return nil
	}
	var out []event.Envelope
	for _, outcome := range []string{"Failure", "Success"} {
		entries, _ := data.Get(outcome)
		items, _ := entries.AsList()
		for _, item := range items {
			for _, checkID := range item.Keys() {
				detail, _ := item.Get(checkID)
				ev := event.Event{}
				ev.SetString("check_result", outcome)
				ev.SetString("check_id", checkID)
				ev.SetString("job_id", jobID)
				if !detail.IsMap() {
					ev.Set("description", flatValue(detail))
				} else if _, ok := detail.Get("description"); ok {
					for _, k := range detail.Keys() {
						if k == "tag" {
							continue
						}
						v, _ := detail.Get(k)
						ev.Set(k, flatValue(v))
					}
				}
				out = append(out, n.wrap(ev))
				break
			}
		}
	}
	if compliance, ok := data.Get("Compliance"); truthy(compliance, ok) {
		ev := event.Event{}
		ev.SetString("job_id", jobID)
		ev.Set("compliance_percentage", flatValue(compliance))
		out = append(out, n.wrap(ev))
	}
	n.metric.IncEventsNormalized("audit", len(out))
	return out
}
