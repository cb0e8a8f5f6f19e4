package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/nanoedge/nanoedgert/internal/domain"
)

func spawnAndSend(t *testing.T, code string, input any) <-chan Message {
	t.Helper()
	h, err := Spawn(context.Background(), Unit{
		Name: "test-fn",
		Code: code,
		Mode: ModeFunction,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := h.Send(input); err != nil {
		t.Fatalf("send: %v", err)
	}
	return h.Recv()
}

func TestFunctionEchoReturnsJSONResult(t *testing.T) {
	recv := spawnAndSend(t, `export default (x) => x`, map[string]any{"a": float64(1)})

	select {
	case msg := <-recv:
		if msg.Type != MessageResult {
			t.Fatalf("expected MessageResult, got %s (%v)", msg.Type, msg.Text)
		}
		out, ok := msg.Value.(map[string]any)
		if !ok || out["a"] != float64(1) {
			t.Fatalf("unexpected echoed value: %#v", msg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestFunctionThrowProducesErrorMessage(t *testing.T) {
	recv := spawnAndSend(t, `export default () => { throw new Error("boom") }`, map[string]any{})

	select {
	case msg := <-recv:
		if msg.Type != MessageError {
			t.Fatalf("expected MessageError, got %s", msg.Type)
		}
		if msg.Text == "" {
			t.Fatalf("expected non-empty error text")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error message")
	}
}

func TestFunctionGeneratorStreamsProgressThenResult(t *testing.T) {
	recv := spawnAndSend(t, `export default function*(c) { yield 1; yield 2; return c; }`, map[string]any{"done": true})

	var got []Message
	for msg := range recv {
		got = append(got, msg)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 messages (progress marker, 2 yields, stream-result), got %d: %#v", len(got), got)
	}
	if got[0].Type != MessageProgress || got[0].ContentType != "text/event-stream" {
		t.Fatalf("expected leading event-stream marker, got %#v", got[0])
	}
	if asFloat(t, got[1].Value) != 1 || asFloat(t, got[2].Value) != 2 {
		t.Fatalf("expected yielded values 1, 2 in order, got %#v, %#v", got[1].Value, got[2].Value)
	}
	if got[3].Type != MessageStreamResult {
		t.Fatalf("expected terminal stream-result, got %s", got[3].Type)
	}
}

func TestFunctionAsyncGeneratorStreamsProgressThenResult(t *testing.T) {
	recv := spawnAndSend(t, `export default async function*(c) { yield 1; yield 2; return c; }`, float64(99))

	var got []Message
	for msg := range recv {
		got = append(got, msg)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 messages (progress marker, 2 yields, stream-result), got %d: %#v", len(got), got)
	}
	if got[0].Type != MessageProgress || got[0].ContentType != "text/event-stream" {
		t.Fatalf("expected leading event-stream marker, got %#v", got[0])
	}
	if asFloat(t, got[1].Value) != 1 || asFloat(t, got[2].Value) != 2 {
		t.Fatalf("expected yielded values 1, 2 in order, got %#v, %#v", got[1].Value, got[2].Value)
	}
	if got[3].Type != MessageStreamResult || asFloat(t, got[3].Value) != 99 {
		t.Fatalf("expected terminal stream-result carrying the return value, got %#v", got[3])
	}
}

func TestFunctionDisallowedReadFileIsDenied(t *testing.T) {
	h, err := Spawn(context.Background(), Unit{
		Name: "no-read",
		Code: `export default () => readFile("/etc/passwd")`,
		Mode: ModeFunction,
		Permissions: domain.Permissions{
			Read: []string{"/tmp/allowed"},
		},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := h.Send(map[string]any{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-h.Recv():
		if msg.Type != MessageError {
			t.Fatalf("expected capability denial to surface as MessageError, got %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for denial")
	}
}

func TestFunctionNoDefaultExportFails(t *testing.T) {
	if _, err := Spawn(context.Background(), Unit{
		Name: "bad",
		Code: `const x = 1;`,
		Mode: ModeFunction,
	}); err == nil {
		t.Fatalf("expected error for a unit with no default export")
	}
}

func asFloat(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case int:
		return float64(n)
	default:
		t.Fatalf("expected numeric value, got %#v", v)
		return 0
	}
}

func TestFunctionContentTypeDetection(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{"<div>hi</div>", "text/html"},
		{`{"a":1}`, "application/json"},
		{"plain text", "text/plain"},
		{map[string]any{"a": 1}, "application/json"},
	}
	for _, c := range cases {
		if got := detectContentType(c.value); got != c.want {
			t.Fatalf("detectContentType(%#v) = %q, want %q", c.value, got, c.want)
		}
	}
}
