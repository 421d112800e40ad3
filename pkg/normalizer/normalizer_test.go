package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarabd/hostwatch/pkg/event"
	"github.com/kumarabd/hostwatch/pkg/query"
	"github.com/kumarabd/hostwatch/pkg/value"
)

func hostnameOf(name string, err error) HostnameFunc {
	return func() (string, error) { return name, err }
}

func mustParse(t *testing.T, doc string) value.Value {
	t.Helper()
	v, err := value.ParseJSON([]byte(doc))
	require.NoError(t, err)
	return v
}

func newTestNormalizer(t *testing.T, opts Options, lookup Lookup) *Normalizer {
	t.Helper()
	log, _ := logger.New("test", logger.Options{Format: logger.JSONLogFormat})
	host := Host{
		Name:       "web01.example.com",
		IPv4:       "10.0.0.5",
		FQDN:       "web01.example.com",
		Master:     "salt01",
		ID:         "web01",
		SystemUUID: "",
		Cloud:      map[string]string{"cloud_instance_id": "i-123"},
	}
	return New(host, opts, lookup, nil, log)
}

func TestResolveHostname(t *testing.T) {
	tests := []struct {
		name     string
		fqdn     string
		id       string
		hostname HostnameFunc
		want     string
	}{
		{"configured fqdn", "web01.example.com", "web01", hostnameOf("other.example.com", nil), "web01.example.com"},
		{"blank fqdn falls back to id", "", "web01", hostnameOf("x", nil), "web01"},
		{"localhost uses os hostname", "localhost", "web01", hostnameOf("web01.corp.example.com", nil), "web01.corp.example.com"},
		{"localhost twice uses ipv4", "localhost", "web01", hostnameOf("localhost", nil), "10.0.0.5"},
		{"dotless os hostname uses ipv4", "localhost.localdomain", "", hostnameOf("web01", nil), "10.0.0.5"},
		{"bad os hostname with dot uses ipv4", "localhost", "", hostnameOf("localhost6.localdomain6", nil), "10.0.0.5"},
		{"hostname error uses ipv4", "localhost", "", hostnameOf("", errors.New("boom")), "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveHostname(tt.fqdn, tt.id, "10.0.0.5", tt.hostname))
		})
	}
}

func TestResolveIPv4(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
		err  error
	}{
		{"local ipv4 wins", Identity{LocalIPv4: "10.1.1.1", FQDNIPv4: []string{"10.2.2.2"}}, "10.1.1.1", nil},
		{"fqdn ipv4 next", Identity{FQDNIPv4: []string{"10.2.2.2"}, IPv4: []string{"10.3.3.3"}}, "10.2.2.2", nil},
		{"ipv4 list last", Identity{IPv4: []string{"10.3.3.3"}}, "10.3.3.3", nil},
		{"loopback rescanned", Identity{FQDNIPv4: []string{"127.0.1.1"}, IPv4: []string{"127.0.0.1", "", "10.4.4.4"}}, "10.4.4.4", nil},
		{"loopback kept when nothing else", Identity{IPv4: []string{"127.0.0.1"}}, "127.0.0.1", nil},
		{"none", Identity{}, "", ErrNoIPv4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.id.ResolveIPv4()
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveHostFallsBackToConfiguredIPv4(t *testing.T) {
	id := Identity{FQDN: "localhost", ID: "localhost", LocalIPv4: "10.0.0.5"}
	host, err := Resolve(id, hostnameOf("localhost", nil))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", host.Name)
	assert.Equal(t, "localhost", host.FQDN)
	assert.Equal(t, "localhost", host.Master)
}

func TestResolveNoIPv4(t *testing.T) {
	_, err := Resolve(Identity{FQDN: "web01.example.com"}, hostnameOf("x", nil))
	assert.ErrorIs(t, err, ErrNoIPv4)
}

func TestNoGateway(t *testing.T) {
	no, yes := false, true
	assert.True(t, Identity{Gateway: &no}.NoGateway())
	assert.False(t, Identity{Gateway: &yes}.NoGateway())
	assert.False(t, Identity{}.NoGateway())
}

func TestQueryResults(t *testing.T) {
	lookup := StaticLookup{
		"site":    value.String("dc1"),
		"groups":  value.Strings("a", "b"),
		"complex": value.Map(map[string]value.Value{"x": value.Int(1)}),
		"count":   value.Int(3),
	}
	n := newTestNormalizer(t, Options{
		Index:                "hostwatch",
		Sourcetype:           "hostwatch_query",
		CustomFields:         []string{"site", "groups", "complex", "count", "absent"},
		IndexExtractedFields: []string{"query", "custom_site", "cmdline"},
	}, lookup)

	results := query.Results{
		query.ResultSet{
			"processes": {Result: true, Data: []value.Value{
				mustParse(t, `{"name":"sshd","cmdline":{"args":["-D"]},"empty":"","tags":["x","y"]}`),
			}},
			"broken": {Result: false, Error: "no such table"},
		},
	}
	envs := n.QueryResults("20240101", results)
	require.Len(t, envs, 2)

	failed := envs[0]
	assert.Equal(t, "broken", failed.Event["query"].Text())
	assert.True(t, failed.Event["query_result"].Equal(value.Bool(false)))
	assert.Equal(t, "no such table", failed.Event["error"].Text())

	env := envs[1]
	assert.Equal(t, "web01.example.com", env.Host)
	assert.Equal(t, "hostwatch", env.Index)
	assert.Equal(t, "hostwatch_query", env.Sourcetype)
	ev := env.Event
	assert.Equal(t, "processes", ev["query"].Text())
	assert.Equal(t, `{"args":["-D"]}`, ev["cmdline"].Text())
	assert.True(t, ev["tags"].IsList())
	assert.NotContains(t, ev, "empty")
	assert.NotContains(t, ev, "system_uuid")
	assert.Equal(t, "dc1", ev["custom_site"].Text())
	assert.Equal(t, "a,b", ev["custom_groups"].Text())
	assert.Equal(t, "3", ev["custom_count"].Text())
	assert.NotContains(t, ev, "custom_complex")
	assert.NotContains(t, ev, "custom_absent")
	assert.Equal(t, "i-123", ev["cloud_instance_id"].Text())
	assert.Equal(t, "10.0.0.5", ev["dest_ip"].Text())
	assert.Equal(t, "salt01", ev["master"].Text())
	assert.Equal(t, map[string]string{
		"query":       "processes",
		"custom_site": "dc1",
		"cmdline":     `{"args":["-D"]}`,
	}, env.Fields)
}

func TestQueryResultsDoesNotMutateInput(t *testing.T) {
	n := newTestNormalizer(t, Options{}, nil)
	row := mustParse(t, `{"name":"sshd","empty":""}`)
	results := query.Results{query.ResultSet{"p": {Result: true, Data: []value.Value{row}}}}
	n.QueryResults("", results)
	assert.Equal(t, []string{"empty", "name"}, row.Keys())
}

func TestFileChangesLinux(t *testing.T) {
	n := newTestNormalizer(t, Options{Sourcetype: "hostwatch_fim"}, nil)
	modify := mustParse(t, `{"change":"IN_MODIFY","path":"/etc/passwd","name":"passwd","tag":"/etc","pulsar_config":"fim.yaml",
		"stats":{"inode":1234,"mode":"0644","ctime":1700000000,"mtime":1700000001,"size":2048,"user":"root","group":"root"},
		"checksum":"abc123","checksum_type":"sha256"}`)
	records := []value.Value{
		modify,
		modify.Clone(),
		mustParse(t, `{"change":"IN_IGNORED","path":"/tmp/x"}`),
		mustParse(t, `{"change":"IN_CREATE|IN_ISDIR","path":"/var/new","name":"new","tag":"/var","stats":{}}`),
		mustParse(t, `{"change":"IN_WEIRD","path":"/a","name":"a","tag":"/"}`),
	}
	envs := n.FileChanges(records)
	require.Len(t, envs, 3)

	ev := envs[0].Event
	assert.Equal(t, "modified", ev["action"].Text())
	assert.Equal(t, "file", ev["object_category"].Text())
	assert.Equal(t, "/etc/passwd", ev["object_path"].Text())
	assert.Equal(t, "1234", ev["object_id"].Text())
	assert.Equal(t, "2", ev["file_size"].Text())
	assert.Equal(t, "abc123", ev["file_hash"].Text())
	assert.Equal(t, "sha256", ev["file_hash_type"].Text())
	assert.Equal(t, "filesystem", ev["change_type"].Text())

	dir := envs[1].Event
	assert.Equal(t, "created", dir["action"].Text())
	assert.Equal(t, "directory", dir["object_category"].Text())
	assert.NotContains(t, dir, "object_id")

	assert.Equal(t, "unknown", envs[2].Event["action"].Text())
}

func TestFileChangesWindows(t *testing.T) {
	n := newTestNormalizer(t, Options{}, nil)
	envs := n.FileChanges([]value.Value{
		mustParse(t, `{"Accesses":"Write DAC","Hash":"Item is a directory","Object Name":"C:\\Windows\\System32","pulsar_config":"win.yaml"}`),
		mustParse(t, `{"Reason":["File create","Data extend","Mystery"],"Full path":"C:\\data\\a.txt","File name":"a.txt","tag":"C:\\data","Time stamp":"2024-01-01T00:00:00","checksum":"ff"}`),
	})
	require.Len(t, envs, 2)

	acl := envs[0].Event
	assert.Equal(t, "acl_modified", acl["action"].Text())
	assert.Equal(t, "directory", acl["object_category"].Text())
	assert.Equal(t, "System32", acl["file_name"].Text())
	assert.Equal(t, `C:\Windows`, acl["file_path"].Text())

	journal := envs[1].Event
	assert.Equal(t, "created, modified, Mystery", journal["action"].Text())
	assert.Equal(t, DefaultWindowsWatchConfig, journal["pulsar_config"].Text())
	assert.Equal(t, "ff", journal["file_hash"].Text())
	assert.Equal(t, "unknown", journal["file_hash_type"].Text())
	assert.Equal(t, "2024-01-01T00:00:00", journal["TimeGenerated"].Text())
}

func TestAuditResults(t *testing.T) {
	n := newTestNormalizer(t, Options{}, nil)
	data := mustParse(t, `{
		"Failure": [{"CIS-1.1": {"description": "Ensure x", "tag": "CIS-1.1", "control": "x"}}],
		"Success": [{"CIS-2.2": "plain description"}, {"CIS-3.3": {"no_description": true}}],
		"Compliance": "50%"
	}`)
	envs := n.AuditResults("job-1", data)
	require.Len(t, envs, 4)

	fail := envs[0].Event
	assert.Equal(t, "Failure", fail["check_result"].Text())
	assert.Equal(t, "CIS-1.1", fail["check_id"].Text())
	assert.Equal(t, "Ensure x", fail["description"].Text())
	assert.Equal(t, "x", fail["control"].Text())
	assert.NotContains(t, fail, "tag")
	assert.Equal(t, "job-1", fail["job_id"].Text())

	assert.Equal(t, "plain description", envs[1].Event["description"].Text())
	assert.NotContains(t, envs[2].Event, "no_description")
	assert.Equal(t, "50%", envs[3].Event["compliance_percentage"].Text())

	assert.Nil(t, n.AuditResults("job-1", value.Strings("not", "a", "map")))
}

func TestLogRecordAndData(t *testing.T) {
	n := newTestNormalizer(t, Options{Sourcetype: "hostwatch_log"}, nil)
	n.now = func() time.Time { return time.UnixMilli(1700000000500) }

	env := n.LogRecord(Record{Message: "cafe\u0301", Level: "INFO", LoggerName: "hostwatch"})
	assert.Equal(t, "caf\u00e9", env.Event["message"].Text())
	assert.NotContains(t, env.Event, "timestamp")
	assert.Equal(t, "1700000000.500", env.Time.String())

	timing := n.Data(event.Event{"query_run_length": value.Map(map[string]value.Value{"users": value.Float(0.25)})})
	assert.Equal(t, `{"users":0.25}`, timing.Event["query_run_length"].Text())
	assert.Equal(t, "web01.example.com", timing.Event["dest_host"].Text())
}
