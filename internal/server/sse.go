package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Stream event names.
const (
	eventStatus   = "status"
	eventComplete = "complete"
	eventError    = "error"
)

// heartbeatInterval keeps idle proxies from closing a quiet stream.
const heartbeatInterval = 15 * time.Second

// eventStream writes job updates as server-sent events. Event ids count up
// from 1 per stream.
type eventStream struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	nextID    int
	lastWrite time.Time
}

// openEventStream commits the 200 response and tells the client how long to
// wait before reconnecting.
func openEventStream(w http.ResponseWriter, retry time.Duration) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &eventStream{w: w, flusher: flusher, nextID: 1}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retry.Milliseconds()); err != nil {
		return nil, err
	}
	s.flush()
	return s, nil
}

func (s *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.nextID, event, payload); err != nil {
		return err
	}
	s.nextID++
	s.flush()
	return nil
}

func (s *eventStream) status(st StatusResponse) error   { return s.send(eventStatus, st) }
func (s *eventStream) complete(st StatusResponse) error { return s.send(eventComplete, st) }

func (s *eventStream) fail(message string) error {
	return s.send(eventError, map[string]string{"error": message})
}

// heartbeat writes a comment line when nothing was sent for a while.
func (s *eventStream) heartbeat(now time.Time) error {
	if now.Sub(s.lastWrite) < heartbeatInterval {
		return nil
	}
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *eventStream) flush() {
	s.flusher.Flush()
	s.lastWrite = time.Now()
}
