package server

import (
	"net/http"

	"github.com/relaygate/llmgateway/pkg/engine"
)

// httpSink adapts an http.ResponseWriter into engine.FrameSink,
// flushing every frame immediately so the client sees bytes as soon as
// the upstream produces them (spec.md §4.7's "no forged terminal frame
// after the first byte has gone out" requires the client to actually
// be seeing bytes as they're written, not buffered server-side).
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

var _ engine.FrameSink = (*httpSink)(nil)

func newHTTPSink(w http.ResponseWriter) *httpSink {
	flusher, _ := w.(http.Flusher)
	return &httpSink{w: w, flusher: flusher}
}

func (s *httpSink) WriteStatus(status int) {
	if s.wrote {
		return
	}
	s.wrote = true
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.WriteHeader(status)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *httpSink) WriteFrame(frame string) error {
	if !s.wrote {
		s.WriteStatus(http.StatusOK)
	}
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
