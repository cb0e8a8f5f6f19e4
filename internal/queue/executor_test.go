package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanoedge/nanoedgert/internal/dispatcher"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/store"
	"github.com/nanoedge/nanoedgert/pkg/logger"
)

func newTestExecutor(t *testing.T) (*Executor, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	d := dispatcher.New(st)
	return New(st, d, logger.NewDefault("queue-executor-test")), st
}

func createTaskAndEnqueue(t *testing.T, st *store.Store, taskName, code string, retryCount, retryDelayMS int, params string) domain.QueueEntry {
	t.Helper()
	ctx := context.Background()
	task, err := st.CreateTask(ctx, domain.Task{
		Name:              taskName,
		RetryCount:        retryCount,
		RetryDelayMS:      retryDelayMS,
		BoundFunctionName: taskName + "-fn",
	}, domain.Function{Code: code, Enabled: true})
	require.NoError(t, err)

	entry, err := st.Enqueue(ctx, task.ID, params)
	require.NoError(t, err)
	return entry
}

func TestTickProcessesQueuedEntryToCompletion(t *testing.T) {
	e, st := newTestExecutor(t)
	ctx := context.Background()

	entry := createTaskAndEnqueue(t, st, "succeed", `export default (x) => ({ok: x.n})`, 0, 10, `{"n":1}`)

	e.tick(ctx)

	got, err := st.GetQueueEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusCompleted, got.Status)

	traces, err := st.ListTraceEvents(ctx, entry.ID)
	require.NoError(t, err)
	require.True(t, len(traces) >= 2)
	require.Equal(t, domain.TraceEventStart, traces[0].Event)
	require.Equal(t, domain.TraceEventEnd, traces[len(traces)-1].Event)
}

func TestTickRetriesThenFails(t *testing.T) {
	e, st := newTestExecutor(t)
	ctx := context.Background()

	entry := createTaskAndEnqueue(t, st, "alwaysfails", `export default () => { throw new Error("nope") }`, 2, 5, `{}`)

	e.tick(ctx)

	got, err := st.GetQueueEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusFailed, got.Status)
	require.Equal(t, 0, got.RemainingRetries)

	traces, err := st.ListTraceEvents(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TraceEventStart, traces[0].Event)
	require.Equal(t, domain.TraceEventFailed, traces[len(traces)-1].Event)
}

func TestTickStreamsGeneratorTraceInOrder(t *testing.T) {
	e, st := newTestExecutor(t)
	ctx := context.Background()

	entry := createTaskAndEnqueue(t, st, "streaming",
		`export default function*() { yield "a"; yield "b"; return "z"; }`, 0, 10, `{}`)

	e.tick(ctx)

	got, err := st.GetQueueEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, domain.QueueStatusCompleted, got.Status)

	traces, err := st.ListTraceEvents(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, traces, 4)
	require.Equal(t, domain.TraceEventStart, traces[0].Event)
	require.Equal(t, domain.TraceEventStream, traces[1].Event)
	require.Equal(t, domain.TraceEventStream, traces[2].Event)
	require.Equal(t, domain.TraceEventEnd, traces[3].Event)
}

func TestStartStopIsIdempotentAndGraceful(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, e.Stop(stopCtx))
	require.NoError(t, e.Stop(stopCtx))
}
