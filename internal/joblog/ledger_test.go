package joblog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestStartFinishDone(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	done, err := l.Done(ctx, StageExtract, "inv-001")
	require.NoError(t, err)
	assert.False(t, done)

	id, err := l.Start(ctx, StageExtract, "inv-001")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	done, err = l.Done(ctx, StageExtract, "inv-001")
	require.NoError(t, err)
	assert.False(t, done, "a started job is not done")

	l.FinishOK(ctx, id)
	done, err = l.Done(ctx, StageExtract, "inv-001")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = l.Done(ctx, StageRoute, "inv-001")
	require.NoError(t, err)
	assert.False(t, done, "stages are tracked independently")
}

func TestFailedJobIsNotDone(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	id, err := l.Start(ctx, StageExtract, "inv-002")
	require.NoError(t, err)
	l.FinishFailure(ctx, id, "ModelUnavailable")

	done, err := l.Done(ctx, StageExtract, "inv-002")
	require.NoError(t, err)
	assert.False(t, done, "failed documents must be retried on the next run")
}

func TestRetryAfterFailureSucceeds(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)

	id1, err := l.Start(ctx, StageExtract, "inv-003")
	require.NoError(t, err)
	l.FinishFailure(ctx, id1, "MalformedResponse")

	id2, err := l.Start(ctx, StageExtract, "inv-003")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
	l.FinishOK(ctx, id2)

	done, err := l.Done(ctx, StageExtract, "inv-003")
	require.NoError(t, err)
	assert.True(t, done)
}
