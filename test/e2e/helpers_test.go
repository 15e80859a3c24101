package e2e

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/seantiz/wart/internal/backend/backendtest"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// worker is a running wart process and the fakes it talks to.
type worker struct {
	cmd     *exec.Cmd
	stdout  *lockedBuffer
	rpcAddr string
	url     string
	redis   *miniredis.Miniredis
	storage *backendtest.Storage
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "wart-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "wart")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/wart")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func startWorker(t *testing.T) *worker {
	t.Helper()
	binary := getBinary(t)

	w := &worker{
		stdout:  &lockedBuffer{},
		rpcAddr: freeAddr(t),
		redis:   miniredis.RunT(t),
		storage: &backendtest.Storage{},
	}
	httpAddr := freeAddr(t)
	w.url = "http://" + httpAddr
	storageAddr := backendtest.ServeTCP(t, w.storage)

	w.cmd = exec.Command(binary)
	w.cmd.Env = append(os.Environ(),
		"WART_RPC_ADDR="+w.rpcAddr,
		"WART_HTTP_ADDR="+httpAddr,
		"WART_REDIS_ADDR="+w.redis.Addr(),
		"WART_STORAGE_ADDR="+storageAddr,
		"WART_STORAGE_SCHEME=nebula",
		"WART_DB_PATH="+filepath.Join(t.TempDir(), "ledger.db"),
		"WART_EPOCH_INTERVAL=20ms",
		"WART_LOG_LEVEL=info",
	)
	w.cmd.Stdout = w.stdout
	w.cmd.Stderr = w.stdout

	if err := w.cmd.Start(); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(func() {
		if w.cmd.ProcessState == nil {
			_ = w.cmd.Process.Kill()
			_ = w.cmd.Wait()
		}
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(w.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return w
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("worker did not become ready within %v\noutput:\n%s", startupTimeout, w.stdout.String())
	return nil
}

// stop sends SIGTERM and waits for the process to exit.
func (w *worker) stop(t *testing.T) error {
	t.Helper()
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal worker: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		t.Fatalf("worker did not exit after SIGTERM\noutput:\n%s", w.stdout.String())
		return nil
	}
}
