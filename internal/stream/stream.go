// Package stream fan-outs assessment lifecycle events to SSE subscribers so
// the portal can show progress without polling.
package stream

import (
	"context"
	"sync"
	"time"
)

// Event phases.
const (
	PhaseStarted   = "started"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// AssessmentEvent describes one step of an assessment run.
type AssessmentEvent struct {
	Phase        string    `json:"phase"`
	CustomerID   string    `json:"customerId"`
	AssessmentID string    `json:"assessmentId,omitempty"`
	TenantDomain string    `json:"tenantDomain,omitempty"`
	Status       string    `json:"status,omitempty"`
	Score        float64   `json:"score,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stream fan-outs assessment events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan AssessmentEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan AssessmentEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan AssessmentEvent {
	ch := make(chan AssessmentEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt AssessmentEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
