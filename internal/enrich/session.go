package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/travel"
)

// Phase is a step of the enrichment state machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseClassifying Phase = "classifying"
	PhaseTravel      Phase = "travel"
	PhaseComplete    Phase = "complete"
)

// Any phase may fall back to idle when the run fails.
var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseClassifying},
	PhaseClassifying: {PhaseTravel, PhaseComplete, PhaseIdle},
	PhaseTravel:      {PhaseComplete, PhaseIdle},
	PhaseComplete:    {PhaseClassifying},
}

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Status is a snapshot of a session.
type Status struct {
	SessionID    string        `json:"session_id"`
	Phase        Phase         `json:"phase"`
	Message      string        `json:"message"`
	BatchesDone  int           `json:"batches_done"`
	BatchesTotal int           `json:"batches_total"`
	Travel       *travel.Stats `json:"travel,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Error        string        `json:"error,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Session carries the progress of one enrichment run. All methods are safe
// for concurrent use.
type Session struct {
	id string

	mu      sync.Mutex
	status  Status
	results []domain.EnrichedTransaction
	err     error
	cancel  context.CancelFunc
	subs    map[int]chan Status
	nextSub int
}

// NewSession returns an idle session with a fresh ID.
func NewSession() *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		status: Status{SessionID: id, Phase: PhaseIdle, UpdatedAt: time.Now()},
		subs:   make(map[int]chan Status),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Phase
}

// Results returns a copy of the latest results.
func (s *Session) Results() []domain.EnrichedTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EnrichedTransaction, len(s.results))
	copy(out, s.results)
	return out
}

// Err returns the error that sent the session back to idle, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel aborts a running enrichment. It is a no-op when nothing runs.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Subscribe returns a channel receiving every status change and a function
// that releases it. Slow subscribers miss intermediate updates.
func (s *Session) Subscribe() (<-chan Status, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Status, 16)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) snapshot() Status {
	st := s.status
	if st.Warnings != nil {
		st.Warnings = append([]string(nil), st.Warnings...)
	}
	return st
}

// publish must be called with mu held.
func (s *Session) publish() {
	s.status.UpdatedAt = time.Now()
	st := s.snapshot()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *Session) begin(cancel context.CancelFunc, batches int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status.Phase, PhaseClassifying) {
		return ErrSessionBusy
	}
	s.cancel = cancel
	s.err = nil
	s.results = nil
	s.status = Status{
		SessionID:    s.id,
		Phase:        PhaseClassifying,
		Message:      fmt.Sprintf("Classifying transactions in %d batches", batches),
		BatchesTotal: batches,
	}
	s.publish()
	return nil
}

func (s *Session) transition(to Phase, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status.Phase, to) {
		return fmt.Errorf("invalid phase transition %s -> %s", s.status.Phase, to)
	}
	s.status.Phase = to
	s.status.Message = message
	s.publish()
	return nil
}

func (s *Session) setMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Message = message
	s.publish()
}

func (s *Session) batchDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.BatchesDone++
	s.publish()
}

func (s *Session) warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Warnings = append(s.status.Warnings, msg)
	s.publish()
}

func (s *Session) setTravelStats(st travel.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Travel = &st
	s.publish()
}

func (s *Session) setResults(results []domain.EnrichedTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = results
}

func (s *Session) complete(results []domain.EnrichedTransaction, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status.Phase, PhaseComplete) {
		return fmt.Errorf("invalid phase transition %s -> %s", s.status.Phase, PhaseComplete)
	}
	s.results = results
	s.cancel = nil
	s.status.Phase = PhaseComplete
	s.status.Message = message
	s.publish()
	return nil
}

// fail records err and returns to idle. Results may carry fallback records.
func (s *Session) fail(err error, results []domain.EnrichedTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	if results != nil {
		s.results = results
	}
	s.cancel = nil
	s.status.Phase = PhaseIdle
	s.status.Message = UserMessage(err)
	s.status.Error = UserMessage(err)
	s.publish()
}
