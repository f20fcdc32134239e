package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Now().UTC()
	j := New("pictures/abc.jpg", now)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", j.ID.String())
	assert.Equal(t, "pictures/abc.jpg", j.ImageRef)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, now, j.CreatedAt)

	require.Len(t, j.Stages, 2)
	for _, s := range Stages() {
		require.Contains(t, j.Stages, s)
		assert.Equal(t, StagePending, j.Stages[s].Status)
		assert.Zero(t, j.Stages[s].Attempts)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	j := New("pictures/abc.jpg", time.Now().UTC())
	j.Stages[StageTagging].Status = StageSucceeded
	j.Stages[StageTagging].Output = &StageOutput{
		Tags: []Tag{{Name: "dog", Classification: "Living Things"}},
	}

	snap := j.Snapshot()

	// Mutating the live job must not leak into the snapshot.
	j.Stages[StageTagging].Output.Tags[0].Name = "cat"
	j.Stages[StageTagging].Status = StageFailed

	got := snap.Stages[StageTagging]
	assert.Equal(t, StageSucceeded, got.Status)
	require.Len(t, got.Output.Tags, 1)
	assert.Equal(t, "dog", got.Output.Tags[0].Name)
}

func TestStageErrorRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *StageError
		retryable bool
	}{
		{name: "transient", err: TransientError(errors.New("boom")), retryable: true},
		{name: "malformed", err: MalformedError(errors.New("bad json")), retryable: true},
		{name: "configuration", err: ConfigurationError(errors.New("no classifications")), retryable: false},
		{name: "cancelled", err: CancelledError(), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.Retryable())
		})
	}
}

func TestAsStageError(t *testing.T) {
	cause := errors.New("service down")
	se := TransientError(cause)

	// Typed errors come back unchanged, even wrapped.
	assert.Same(t, se, AsStageError(se))
	wrapped := errorWrap{se}
	assert.Same(t, se, AsStageError(wrapped))

	// Untyped errors are classified transient.
	got := AsStageError(cause)
	assert.Equal(t, ErrKindTransient, got.Kind)
	assert.ErrorIs(t, got, cause)
}

type errorWrap struct{ err error }

func (w errorWrap) Error() string { return "wrap: " + w.err.Error() }
func (w errorWrap) Unwrap() error { return w.err }
