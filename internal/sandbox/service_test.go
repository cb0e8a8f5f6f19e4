package sandbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServiceForwardsRequestToHandler(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := Spawn(ctx, Unit{
		Name: "hello",
		Code: `export default (req) => ({ status: 200, body: JSON.stringify({message: "Hello, World!", path: req.path}) })`,
		Mode: ModeService,
		Port: port,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer h.Terminate()

	waitForPort(t, port)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v2/hello/", port))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if got := string(body); got == "" {
		t.Fatalf("expected a non-empty body")
	}
}

func TestServiceTerminateStopsListener(t *testing.T) {
	port := freePort(t)
	h, err := Spawn(context.Background(), Unit{
		Name: "stoppable",
		Code: `export default () => ({ status: 200, body: "ok" })`,
		Mode: ModeService,
		Port: port,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitForPort(t, port)

	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected listener on port %d to stop after Terminate", port)
}

func waitForPort(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("port %d never came up", port)
}
