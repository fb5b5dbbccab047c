package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/sse"
)

// fakeService speaks the classification and travel event streams.
type fakeService struct {
	mu          sync.Mutex
	classifyN   int
	travelN     int
	authHeaders []string

	ClassifyFunc func(w http.ResponseWriter, r *http.Request, req ClassifyRequest, call int)
	TravelFunc   func(w http.ResponseWriter, r *http.Request, req TravelRequest, call int)
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	f.mu.Unlock()

	switch r.URL.Path {
	case DefaultClassify:
		var req ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.classifyN++
		n := f.classifyN
		f.mu.Unlock()
		f.ClassifyFunc(w, r, req, n)
	case DefaultTravelPath:
		var req TravelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.travelN++
		n := f.travelN
		f.mu.Unlock()
		f.TravelFunc(w, r, req, n)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeService) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyN, f.travelN
}

func classifyOK(w http.ResponseWriter, req ClassifyRequest) {
	sw := sse.NewWriter(w)
	_ = sw.WriteEvent(EventStatus, StatusEvent{Message: "Classifying"})
	_ = sw.WriteEvent(EventBatchComplete, BatchCompleteEvent{BatchNum: 1, TotalBatches: 1, Count: len(req.Transactions)})
	out := make([]Classification, len(req.Transactions))
	for i, rec := range req.Transactions {
		out[i] = Classification{
			ID:                 rec.ID,
			NormalizedMerchant: "Clean " + rec.Merchant,
			Pillar:             string(domain.PillarFoodDining),
			Subcategory:        "Restaurants",
			Confidence:         0.9,
		}
	}
	_ = sw.WriteEvent(EventDone, ClassifyDoneEvent{EnrichedTransactions: out})
}

func zeroDelayRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: 0, Retryable: IsRetryable}
}

func newTestClient(t *testing.T, f *fakeService, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{WithRetryPolicy(zeroDelayRetry())}, opts...)
	return NewClient(srv.URL+"/", opts...)
}

func tx(id, merchant, amount string, day int, zip string) domain.Transaction {
	return domain.Transaction{
		ID:       id,
		Merchant: merchant,
		Amount:   decimal.RequireFromString(amount),
		Date:     civil.Date{Year: 2025, Month: time.March, Day: day},
		ZipCode:  zip,
	}
}

func TestClient_Classify(t *testing.T) {
	f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, r *http.Request, req ClassifyRequest, _ int) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, sse.ContentType, r.Header.Get("Accept"))
		require.Len(t, req.Transactions, 2)
		assert.Equal(t, "2025-03-04", req.Transactions[0].Date)
		assert.Equal(t, 12.5, req.Transactions[0].Amount)
		assert.Equal(t, "94107", req.Transactions[0].Zip)
		assert.Empty(t, req.Transactions[1].Zip)
		classifyOK(w, req)
	}}
	c := newTestClient(t, f, WithAPIKey("secret"))

	var progress []Progress
	res, err := c.Classify(context.Background(), []domain.Transaction{
		tx("a", "Cafe", "12.50", 4, "94107"),
		tx("b", "Diner", "3", 5, ""),
	}, func(p Progress) { progress = append(progress, p) })

	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "Clean Cafe", res[0].NormalizedMerchant)

	require.Len(t, progress, 2)
	assert.Equal(t, EventStatus, progress[0].Kind)
	assert.Equal(t, "Classifying", progress[0].Message)
	assert.Equal(t, EventBatchComplete, progress[1].Kind)
	assert.Equal(t, 2, progress[1].Count)

	assert.Equal(t, []string{"Bearer secret"}, f.authHeaders)
}

func TestClient_Classify_ErrorEventIsNotRetried(t *testing.T) {
	f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, _ *http.Request, _ ClassifyRequest, _ int) {
		sw := sse.NewWriter(w)
		_ = sw.WriteEvent(EventStatus, StatusEvent{Message: "working"})
		_ = sw.WriteEvent(EventError, ErrorEvent{Message: "model overloaded"})
	}}
	c := newTestClient(t, f)

	_, err := c.Classify(context.Background(), []domain.Transaction{tx("a", "Cafe", "1", 1, "")}, nil)

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "model overloaded", se.Message)
	assert.Equal(t, "model overloaded", UserMessage(err))
	n, _ := f.calls()
	assert.Equal(t, 1, n)
}

func TestClient_Classify_RemoteStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
	}{
		{"rate limited", http.StatusTooManyRequests, "Rate limited: too many requests, please retry later"},
		{"quota", http.StatusPaymentRequired, "Quota exhausted: billing action needed before classifying more transactions"},
		{"other", http.StatusInternalServerError, "Classification failed with status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, _ *http.Request, _ ClassifyRequest, _ int) {
				http.Error(w, "nope", tt.status)
			}}
			c := newTestClient(t, f)

			_, err := c.Classify(context.Background(), []domain.Transaction{tx("a", "Cafe", "1", 1, "")}, nil)

			var re *RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.StatusCode)
			assert.Equal(t, tt.message, UserMessage(err))
			assert.False(t, IsRetryable(err))
			n, _ := f.calls()
			assert.Equal(t, 1, n, "remote refusals are not retried")
		})
	}

	re := &RemoteError{Op: "classify", StatusCode: http.StatusTooManyRequests}
	assert.Contains(t, re.Error(), "rate limited")
	re = &RemoteError{Op: "classify", StatusCode: http.StatusPaymentRequired}
	assert.Contains(t, re.Error(), "billing action needed")
	re = &RemoteError{Op: "classify", StatusCode: http.StatusBadGateway}
	assert.Contains(t, re.Error(), "502")
}

func TestClient_Classify_RetriesDroppedConnection(t *testing.T) {
	f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, _ *http.Request, req ClassifyRequest, call int) {
		if call == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		classifyOK(w, req)
	}}
	c := newTestClient(t, f)

	res, err := c.Classify(context.Background(), []domain.Transaction{tx("a", "Cafe", "1", 1, "")}, nil)

	require.NoError(t, err)
	require.Len(t, res, 1)
	n, _ := f.calls()
	assert.Equal(t, 2, n)
}

func TestClient_Classify_StreamWithoutDone(t *testing.T) {
	f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, _ *http.Request, _ ClassifyRequest, _ int) {
		_ = sse.NewWriter(w).WriteEvent(EventStatus, StatusEvent{Message: "partial"})
	}}
	c := newTestClient(t, f)

	_, err := c.Classify(context.Background(), []domain.Transaction{tx("a", "Cafe", "1", 1, "")}, nil)

	require.ErrorIs(t, err, ErrStreamEnded)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "Network connection failed", UserMessage(err))
	n, _ := f.calls()
	assert.Equal(t, 2, n, "one retry after a transport failure")
}

func TestClient_Classify_Timeout(t *testing.T) {
	f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, r *http.Request, _ ClassifyRequest, _ int) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}}
	c := newTestClient(t, f, WithTimeout(50*time.Millisecond))

	_, err := c.Classify(context.Background(), []domain.Transaction{tx("a", "Cafe", "1", 1, "")}, nil)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.Equal(t, "Request timed out", UserMessage(err))
	n, _ := f.calls()
	assert.Equal(t, 2, n)
}

func TestClient_Classify_SkipsMalformedFrames(t *testing.T) {
	f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, _ *http.Request, req ClassifyRequest, _ int) {
		sw := sse.NewWriter(w)
		_ = sw.WriteRaw(EventStatus, []byte("{not json"))
		_ = sw.WriteRaw(EventDone, []byte("{\"enriched_transactions\": [oops"))
		classifyOK(w, req)
	}}
	c := newTestClient(t, f)

	res, err := c.Classify(context.Background(), []domain.Transaction{tx("a", "Cafe", "1", 1, "")}, nil)

	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Clean Cafe", res[0].NormalizedMerchant)
}

func TestClient_Classify_CancelledContext(t *testing.T) {
	f := &fakeService{ClassifyFunc: func(w http.ResponseWriter, _ *http.Request, req ClassifyRequest, _ int) {
		classifyOK(w, req)
	}}
	c := newTestClient(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, []domain.Transaction{tx("a", "Cafe", "1", 1, "")}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "Enrichment cancelled", UserMessage(err))
}

func TestClient_AnnotateTravel(t *testing.T) {
	payloads := map[string]string{
		"bare array": `[{"transaction_id":"h1","is_travel_related":true,"travel_destination":"Denver, CO"}]`,
		"wrapped":    `{"updates":[{"transaction_id":"h1","is_travel_related":true,"travel_destination":"Denver, CO"}]}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			f := &fakeService{TravelFunc: func(w http.ResponseWriter, _ *http.Request, req TravelRequest, _ int) {
				assert.Equal(t, "94107", req.HomeZip)
				require.Len(t, req.Transactions, 1)
				assert.Equal(t, string(domain.PillarTravel), req.Transactions[0].Pillar)
				assert.Equal(t, "anchor", req.Transactions[0].Reason)

				sw := sse.NewWriter(w)
				_ = sw.WriteEvent(EventStatus, StatusEvent{Message: "Looking for trips"})
				_ = sw.WriteRaw(EventTravelUpdates, []byte(payload))
				_ = sw.WriteEvent(EventDone, StatusEvent{Message: "done"})
			}}
			c := newTestClient(t, f)

			cand := domain.TravelCandidate{
				Transaction: domain.EnrichedTransaction{Transaction: tx("h1", "Hilton", "210", 3, "80202"), Pillar: domain.PillarTravel},
				Reason:      "anchor",
			}
			updates, err := c.AnnotateTravel(context.Background(), []domain.TravelCandidate{cand}, "94107", nil)

			require.NoError(t, err)
			require.Len(t, updates, 1)
			assert.Equal(t, "h1", updates[0].TransactionID)
			assert.True(t, updates[0].IsTravelRelated)
			assert.Equal(t, "Denver, CO", updates[0].TravelDestination)
		})
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	transient := &TransportError{Op: "x", Err: errors.New("reset")}

	t.Run("retries transient once", func(t *testing.T) {
		calls := 0
		err := zeroDelayRetry().Do(context.Background(), func(context.Context) error {
			calls++
			return transient
		})
		require.ErrorIs(t, err, transient)
		assert.Equal(t, 2, calls)
	})

	t.Run("succeeds on second attempt", func(t *testing.T) {
		calls := 0
		err := zeroDelayRetry().Do(context.Background(), func(context.Context) error {
			calls++
			if calls == 1 {
				return transient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		calls := 0
		remote := &RemoteError{Op: "x", StatusCode: http.StatusTooManyRequests}
		err := zeroDelayRetry().Do(context.Background(), func(context.Context) error {
			calls++
			return remote
		})
		var re *RemoteError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, 1, calls)
	})

	t.Run("single attempt", func(t *testing.T) {
		calls := 0
		p := RetryPolicy{MaxAttempts: 0}
		_ = p.Do(context.Background(), func(context.Context) error {
			calls++
			return transient
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("defaults", func(t *testing.T) {
		p := DefaultRetryPolicy()
		assert.Equal(t, 2, p.MaxAttempts)
		assert.Equal(t, 2*time.Second, p.Delay)
	})
}
