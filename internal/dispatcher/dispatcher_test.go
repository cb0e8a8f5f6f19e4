package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func TestInvokeReturnsJSONResult(t *testing.T) {
	d, st := newTestDispatcher(t)
	ctx := context.Background()

	_, err := st.CreateFunction(ctx, domain.Function{
		Name:    "echo",
		Code:    `export default (x) => x`,
		Enabled: true,
	})
	require.NoError(t, err)

	resp, err := d.Invoke(ctx, "echo", map[string]any{"a": 1})
	require.NoError(t, err)
	defer resp.Cancel()

	require.Equal(t, "application/json", resp.ContentType)
	require.JSONEq(t, `{"a":1}`, string(resp.Body))
}

func TestInvokeUnknownFunctionFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestInvokeDisabledFunctionFails(t *testing.T) {
	d, st := newTestDispatcher(t)
	ctx := context.Background()

	_, err := st.CreateFunction(ctx, domain.Function{
		Name:    "off",
		Code:    `export default (x) => x`,
		Enabled: false,
	})
	require.NoError(t, err)

	_, err = d.Invoke(ctx, "off", nil)
	require.Error(t, err)
}

func TestInvokeThrownErrorFails(t *testing.T) {
	d, st := newTestDispatcher(t)
	ctx := context.Background()

	_, err := st.CreateFunction(ctx, domain.Function{
		Name:    "boom",
		Code:    `export default () => { throw new Error("boom") }`,
		Enabled: true,
	})
	require.NoError(t, err)

	_, err = d.Invoke(ctx, "boom", nil)
	require.Error(t, err)
}

func TestInvokeGeneratorStreamsEventsInOrder(t *testing.T) {
	d, st := newTestDispatcher(t)
	ctx := context.Background()

	_, err := st.CreateFunction(ctx, domain.Function{
		Name:    "gen",
		Code:    `export default function*() { yield "a"; yield "b"; return "done"; }`,
		Enabled: true,
	})
	require.NoError(t, err)

	resp, err := d.Invoke(ctx, "gen", nil)
	require.NoError(t, err)
	defer resp.Cancel()
	require.Equal(t, "text/event-stream", resp.ContentType)

	var got []Event
loop:
	for {
		select {
		case ev, ok := <-resp.Events:
			if !ok {
				break loop
			}
			got = append(got, ev)
			if ev.Done {
				break loop
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream events")
		}
	}
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].Value)
	require.Equal(t, "b", got[1].Value)
	require.True(t, got[2].Done)
	require.Equal(t, "done", got[2].Value)
}
