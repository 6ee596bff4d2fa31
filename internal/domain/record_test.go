package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStatusTransitions(t *testing.T) {
	testCases := []struct {
		name string
		from RecordStatus
		to   RecordStatus
		ok   bool
	}{
		{"pending to done", RecordStatusPending, RecordStatusDone, true},
		{"pending to failed", RecordStatusPending, RecordStatusFailed, true},
		{"done to failed", RecordStatusDone, RecordStatusFailed, false},
		{"failed to done", RecordStatusFailed, RecordStatusDone, false},
		{"done to pending", RecordStatusDone, RecordStatusPending, false},
		{"done to done", RecordStatusDone, RecordStatusDone, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &Record{Status: tc.from}
			err := rec.Transition(tc.to)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, rec.Status)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tc.from, rec.Status)
		})
	}
}

func TestRecordValidate(t *testing.T) {
	assert.ErrorIs(t, (&Record{}).Validate(), ErrMissingSource)
	assert.ErrorIs(t, (&Record{URL: "http://x", Content: "y"}).Validate(), ErrMissingSource)
	assert.NoError(t, (&Record{URL: "http://x"}).Validate())
	assert.NoError(t, (&Record{Content: "hello"}).Validate())
}

func TestAttachJobKeepsIDImmutable(t *testing.T) {
	rec := &Record{}
	require.NoError(t, rec.AttachJob(map[string]interface{}{"id": "ft-1"}))
	assert.Equal(t, "ft-1", rec.JobID)

	require.NoError(t, rec.AttachJob(map[string]interface{}{"id": "ft-1", "status": "running"}))
	err := rec.AttachJob(map[string]interface{}{"id": "ft-2"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "ft-1", rec.JobID)
}

func TestParseIngestType(t *testing.T) {
	for in, want := range map[string]IngestType{"text": IngestTypeTXT, "TXT": IngestTypeTXT, "pdf": IngestTypePDF, "markdown": IngestTypeMarkdown} {
		got, err := ParseIngestType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseIngestType("docx")
	assert.True(t, IsConfigurationError(err))
	assert.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestReplicateVersion(t *testing.T) {
	owner, name, version, ok := ReplicateVersion(ReplicateModels[BaseModelLlama27BChat])
	require.True(t, ok)
	assert.Equal(t, "meta", owner)
	assert.Equal(t, "llama-2-7b-chat", name)
	assert.Len(t, version, 64)

	_, _, _, ok = ReplicateVersion("no-version")
	assert.False(t, ok)
}

func TestUpstreamErrorChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewUpstreamError("jina", "embed", 0, ErrUpstreamUnavailable, cause)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "jina embed failed")
}

func TestJobToJSONMapCanonicalFieldsWin(t *testing.T) {
	job := &FinetuneJob{
		ID:       "ft-9",
		Provider: ProviderOpenAI,
		Status:   JobStatusPending,
		Metadata: map[string]interface{}{"id": "stale", "object": "fine_tuning.job"},
	}
	m := job.ToJSONMap()
	assert.Equal(t, "ft-9", m["id"])
	assert.Equal(t, "fine_tuning.job", m["object"])
	assert.Equal(t, "pending", m["status"])
}
