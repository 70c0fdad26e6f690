package testutil

import (
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// FreePort reserves an ephemeral local TCP port.
// Params: none.
// Returns: port number or listen error.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// StartJetStream launches a throwaway nats-server with JetStream for one test.
// The server is stopped through tb.Cleanup; the test is skipped when the
// nats-server binary is not installed.
// Params: tb is the test handle.
// Returns: client URL of the running server.
func StartJetStream(tb testing.TB) string {
	tb.Helper()

	port, err := FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}

	cmd := exec.Command("nats-server", "-js", "-p", strconv.Itoa(port), "-sd", tb.TempDir())
	if err := cmd.Start(); err != nil {
		tb.Skipf("nats-server binary not available: %v", err)
	}
	tb.Cleanup(func() { stopServer(cmd) })

	url := "nats://127.0.0.1:" + strconv.Itoa(port)
	waitReady(tb, url, 8*time.Second)
	return url
}

// stopServer terminates the server process, escalating to kill on timeout.
// Params: cmd is the started nats-server process.
// Returns: nothing.
func stopServer(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}

// waitReady blocks until the server accepts client connections.
// Params: tb test handle, url client URL, timeout total wait limit.
// Returns: nothing; fails the test on timeout.
func waitReady(tb testing.TB, url string, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		nc, err := nats.Connect(url)
		if err == nil {
			nc.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	tb.Fatalf("nats-server did not become ready at %s", url)
}
