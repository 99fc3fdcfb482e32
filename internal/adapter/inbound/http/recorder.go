package http

import (
	"bytes"
	"net/http"
)

// maxCaptureBytes caps how much response body the interception buffer
// retains. Responses above the cap are passed through uncached.
const maxCaptureBytes = 1 << 20

// responseRecorder wraps http.ResponseWriter to observe the status code.
// With capture enabled it also buffers the body so the governance layer
// can feed the response into the cache after the handler runs; bodies
// past the cap stream through untouched and mark the capture unusable.
// The metrics middleware uses it without capture.
type responseRecorder struct {
	http.ResponseWriter
	status   int
	capture  bool
	body     bytes.Buffer
	overflow bool
}

func newResponseRecorder(w http.ResponseWriter, capture bool) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK, capture: capture}
}

func (rec *responseRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	if rec.capture && !rec.overflow {
		if rec.body.Len()+len(p) > maxCaptureBytes {
			rec.overflow = true
			rec.body.Reset()
		} else {
			rec.body.Write(p)
		}
	}
	return rec.ResponseWriter.Write(p)
}

// Flush delegates to the underlying ResponseWriter if it supports
// http.Flusher. Required for streamed upstream responses.
func (rec *responseRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
