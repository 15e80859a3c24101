package sandbox

import (
	"bytes"
	"sync"

	"github.com/seantiz/wart/internal/bridge"
)

// lineWriter turns a guest output stream into log lines.
type lineWriter struct {
	level bridge.Level
	log   bridge.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.log.Log(w.level, line[:i])
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.log.Log(w.level, w.buf.String())
		w.buf.Reset()
	}
}
