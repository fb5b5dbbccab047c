package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spend-enricher/internal/api/middleware"
	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/enrich"
	"github.com/dvloznov/spend-enricher/internal/jobs"
	"github.com/dvloznov/spend-enricher/internal/logger"
	"github.com/dvloznov/spend-enricher/internal/sse"
)

// Events written on the enrichment stream.
const (
	EventSession = "session"
	EventStatus  = "status"
	EventResult  = "result"
	EventError   = "error"
	EventDone    = "done"
)

// Runner drives an enrichment session. enrich.Enricher implements it.
type Runner interface {
	Run(ctx context.Context, session *enrich.Session, txs []domain.Transaction, homeZip string) ([]domain.EnrichedTransaction, error)
}

// EnrichRequest selects what to enrich: the imported records of a job, or
// an explicit list.
type EnrichRequest struct {
	JobID        string               `json:"job_id,omitempty"`
	Transactions []domain.Transaction `json:"transactions,omitempty"`
	HomeZip      string               `json:"home_zip,omitempty"`
}

// EnrichResult is the final payload of an enrichment stream.
type EnrichResult struct {
	Status       enrich.Status                `json:"status"`
	Transactions []domain.EnrichedTransaction `json:"transactions"`
}

// Retention of finished sessions.
const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 256
)

// EnrichHandler runs enrichment sessions and streams their progress.
// Finished sessions stay readable for a TTL; running ones are never evicted.
type EnrichHandler struct {
	store  jobs.JobStore
	runner Runner
	log    zerolog.Logger

	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*trackedSession
}

type trackedSession struct {
	session  *enrich.Session
	finished time.Time // zero while running
}

// EnrichOption configures an EnrichHandler.
type EnrichOption func(*EnrichHandler)

// WithSessionTTL sets how long a finished session stays readable.
func WithSessionTTL(d time.Duration) EnrichOption {
	return func(h *EnrichHandler) {
		if d > 0 {
			h.ttl = d
		}
	}
}

// WithMaxSessions caps how many finished sessions are kept.
func WithMaxSessions(n int) EnrichOption {
	return func(h *EnrichHandler) {
		if n > 0 {
			h.maxSessions = n
		}
	}
}

// NewEnrichHandler creates a new enrichment handler.
func NewEnrichHandler(store jobs.JobStore, runner Runner, log zerolog.Logger, opts ...EnrichOption) *EnrichHandler {
	h := &EnrichHandler{
		store:       store,
		runner:      runner,
		log:         log,
		ttl:         DefaultSessionTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		sessions:    make(map[string]*trackedSession),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StartEnrichment handles POST /api/enrich
//
// The response is an event stream: one "session" event with the session
// ID, "status" events for every phase change or progress message, then a
// "result" event and "done", or an "error" event.
func (h *EnrichHandler) StartEnrichment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txs, homeZip := req.Transactions, req.HomeZip
	if req.JobID != "" {
		job, err := h.store.GetJob(ctx, req.JobID)
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		var jobZip string
		txs, jobZip = job.Transactions()
		if homeZip == "" {
			homeZip = jobZip
		}
	}
	if len(txs) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No transactions to enrich")
		return
	}

	session := enrich.NewSession()
	h.track(session)

	updates, release := session.Subscribe()
	defer release()

	type outcome struct {
		results []domain.EnrichedTransaction
		err     error
	}
	done := make(chan outcome, 1)
	runCtx := logger.WithContext(ctx, h.log.With().Str("request_id", middleware.GetRequestID(ctx)).Logger())
	go func() {
		res, err := h.runner.Run(runCtx, session, txs, homeZip)
		h.finish(session.ID())
		done <- outcome{res, err}
	}()

	stream := sse.NewWriter(w)
	_ = stream.WriteEvent(EventSession, map[string]string{"session_id": session.ID()})

	for {
		select {
		case st := <-updates:
			if err := stream.WriteEvent(EventStatus, st); err != nil {
				h.log.Debug().Err(err).Msg("Client went away")
			}
		case out := <-done:
			drain(stream, updates)
			if out.err != nil {
				h.log.Warn().Err(out.err).Str("session_id", session.ID()).Msg("Enrichment failed")
				_ = stream.WriteEvent(EventError, map[string]string{"message": enrich.UserMessage(out.err)})
				if out.results == nil {
					return
				}
			}
			_ = stream.WriteEvent(EventResult, EnrichResult{Status: session.Status(), Transactions: out.results})
			_ = stream.WriteEvent(EventDone, map[string]string{"message": session.Status().Message})
			return
		}
	}
}

func drain(stream *sse.Writer, updates <-chan enrich.Status) {
	for {
		select {
		case st := <-updates:
			_ = stream.WriteEvent(EventStatus, st)
		default:
			return
		}
	}
}

// GetSession handles GET /api/enrich/{id}
func (h *EnrichHandler) GetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := h.session(sessionID)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, EnrichResult{Status: session.Status(), Transactions: session.Results()})
}

// CancelSession handles DELETE /api/enrich/{id}
func (h *EnrichHandler) CancelSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := h.session(sessionID)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	session.Cancel()
	h.log.Info().Str("session_id", sessionID).Msg("Enrichment cancel requested")
	middleware.WriteJSON(w, http.StatusAccepted, session.Status())
}

func (h *EnrichHandler) session(id string) (*enrich.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	t, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	return t.session, true
}

func (h *EnrichHandler) track(s *enrich.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	h.sessions[s.ID()] = &trackedSession{session: s}
}

func (h *EnrichHandler) finish(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.sessions[id]; ok {
		t.finished = h.now()
	}
}

// pruneLocked drops finished sessions older than the TTL, then the oldest
// finished ones while more than maxSessions are kept.
func (h *EnrichHandler) pruneLocked() {
	cutoff := h.now().Add(-h.ttl)
	var finished []string
	for id, t := range h.sessions {
		switch {
		case t.finished.IsZero():
		case !t.finished.After(cutoff):
			delete(h.sessions, id)
		default:
			finished = append(finished, id)
		}
	}
	if len(finished) <= h.maxSessions {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return h.sessions[finished[i]].finished.Before(h.sessions[finished[j]].finished)
	})
	for _, id := range finished[:len(finished)-h.maxSessions] {
		delete(h.sessions, id)
	}
	h.log.Debug().Int("kept", len(h.sessions)).Msg("Evicted finished enrichment sessions")
}
