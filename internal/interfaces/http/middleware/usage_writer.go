package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// UsageWriter wraps the response of an authorized call. Bytes pass through
// unchanged. Once the client connection fails, further writes are discarded
// but still reported as written, so the proxy keeps draining the upstream
// body and the call is accounted for when the upstream completes.
type UsageWriter struct {
	gin.ResponseWriter

	mu         sync.Mutex
	clientGone bool
	onComplete func()
}

// NewUsageWriter wraps w. onComplete is usually a usage.Recorder trigger,
// which records at most once however often it is called.
func NewUsageWriter(w gin.ResponseWriter, onComplete func()) *UsageWriter {
	return &UsageWriter{ResponseWriter: w, onComplete: onComplete}
}

func (w *UsageWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.clientGone {
		return len(p), nil
	}
	if _, err := w.ResponseWriter.Write(p); err != nil {
		w.clientGone = true
	}
	return len(p), nil
}

func (w *UsageWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush is a no-op after the client has gone away.
func (w *UsageWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.clientGone {
		w.ResponseWriter.Flush()
	}
}

// ClientGone reports whether a write to the client failed.
func (w *UsageWriter) ClientGone() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clientGone
}

// Complete signals that the upstream body has been fully produced. The
// completion callback fires only for non-error statuses; upstreamFailed
// suppresses it.
func (w *UsageWriter) Complete(upstreamFailed bool) bool {
	if upstreamFailed || w.Status() >= http.StatusBadRequest {
		return false
	}
	if w.onComplete != nil {
		w.onComplete()
	}
	return true
}
