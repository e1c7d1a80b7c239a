package middleware

import (
	"bytes"
	"fmt"
	"net/http"
)

// CachedResponse is the replayable form of a handler response.
type CachedResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
}

// Replay copies the response to w.
func (c *CachedResponse) Replay(w http.ResponseWriter) {
	for k, vs := range c.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(c.StatusCode)
	_, _ = w.Write(c.Body)
}

// recorder buffers a handler response so the guard can decide what to do with it.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) response() *CachedResponse {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return &CachedResponse{
		StatusCode: status,
		Headers:    r.header.Clone(),
		Body:       bytes.Clone(r.body.Bytes()),
	}
}

// handlerError marks a 5xx response as a failed execution of the guarded work.
type handlerError struct {
	resp *CachedResponse
}

func (e *handlerError) Error() string {
	return fmt.Sprintf("handler failed with status %d", e.resp.StatusCode)
}
