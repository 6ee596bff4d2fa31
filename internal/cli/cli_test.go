package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/domain"
)

const testConfig = `
server:
  mode: test
database:
  driver: memory
vectorstore:
  provider: MEMORY
embedding:
  default_model: hash-384
  models:
    - name: hash-384
      provider: hash
      dimensions: 384
pipeline:
  workers: 2
  staging_path: ""
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath := writeFile(t, "config.yaml", testConfig)

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueryEmptyNamespace(t *testing.T) {
	out, err := execute(t, "query", "what is a goroutine?", "--namespace", "nothing-here")
	require.NoError(t, err)
	assert.Contains(t, out, "No matches found.")
}

func TestReconcileUnknownJob(t *testing.T) {
	payload := writeFile(t, "payload.json", `{"id":"ftjob-missing","status":"succeeded"}`)
	_, err := execute(t, "reconcile", payload)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcileRejectsBadPayload(t *testing.T) {
	payload := writeFile(t, "payload.json", `not json`)
	_, err := execute(t, "reconcile", payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode payload")
}

func TestEmbedUnknownRecord(t *testing.T) {
	_, err := execute(t, "embed", "rec-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunNeedsASource(t *testing.T) {
	_, err := execute(t, "run", "--type", "TXT")
	require.Error(t, err)
}

func TestBatchUnknownSource(t *testing.T) {
	_, err := execute(t, "batch", "--source", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source "nope"`)
}

func TestInvalidConfigIsReported(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"--config", writeFile(t, "config.yaml", testConfig+"finetune:\n  chunk_size: 10\n  chunk_overlap: 10\n"), "query", "x"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
