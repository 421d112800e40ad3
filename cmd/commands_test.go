package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarabd/hostwatch/pkg/pipeline"
)

func TestReadRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"job_id": "j1", "records": [{"path": "/etc/hosts", "change": "IN_MODIFY"}]}`), 0o600))

	req, err := readRequest(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "j1", req.JobID)
	assert.Len(t, req.Records, 1)

	req, err = readRequest("-", strings.NewReader(`{"logs": [{"message": "m"}]}`))
	require.NoError(t, err)
	assert.Len(t, req.Logs, 1)

	_, err = readRequest("-", strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, report(&out, pipeline.Summary{Kind: pipeline.KindLog, Batches: 1}, nil))
	assert.Contains(t, out.String(), `"kind": "log"`)

	out.Reset()
	err := report(&out, pipeline.Summary{Kind: pipeline.KindLog, Batches: 2, Failed: 1}, nil)
	assert.ErrorContains(t, err, "1 of 2 batches failed")
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "deliver", "run", "publish-config"} {
		assert.True(t, names[want], want)
	}
	flag := root.PersistentFlags().Lookup("config-dir")
	require.NotNil(t, flag)
}
