package enrich

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/pipeline"
	"github.com/dvloznov/spend-enricher/internal/sse"
)

// MockClassifier is a mock implementation of Classifier.
type MockClassifier struct {
	mu          sync.Mutex
	batches     [][]domain.Transaction
	travelCalls int

	ClassifyFunc       func(ctx context.Context, txs []domain.Transaction) ([]Classification, error)
	AnnotateTravelFunc func(ctx context.Context, candidates []domain.TravelCandidate, homeZip string) ([]TravelUpdate, error)
}

func (m *MockClassifier) Classify(ctx context.Context, txs []domain.Transaction, progress ProgressFunc) ([]Classification, error) {
	m.mu.Lock()
	m.batches = append(m.batches, txs)
	m.mu.Unlock()
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, txs)
	}
	return classifyAll(txs, domain.PillarShopping), nil
}

func (m *MockClassifier) AnnotateTravel(ctx context.Context, candidates []domain.TravelCandidate, homeZip string, progress ProgressFunc) ([]TravelUpdate, error) {
	m.mu.Lock()
	m.travelCalls++
	m.mu.Unlock()
	if m.AnnotateTravelFunc != nil {
		return m.AnnotateTravelFunc(ctx, candidates, homeZip)
	}
	return nil, nil
}

func classifyAll(txs []domain.Transaction, p domain.Pillar) []Classification {
	out := make([]Classification, len(txs))
	for i, t := range txs {
		out[i] = Classification{ID: t.ID, NormalizedMerchant: t.Merchant, Pillar: string(p), Confidence: 0.8}
	}
	return out
}

func makeTxs(n int) []domain.Transaction {
	out := make([]domain.Transaction, n)
	for i := range out {
		out[i] = tx(fmt.Sprintf("t%02d", i), fmt.Sprintf("Shop %d", i), "10", 1+i%28, "")
	}
	return out
}

func TestEnricher_BatchesConcurrentlyAndMerges(t *testing.T) {
	m := &MockClassifier{}
	e := NewEnricher(m)
	s := NewSession()

	out, err := e.Run(context.Background(), s, makeTxs(50), "")

	require.NoError(t, err)
	require.Len(t, out, 50)
	require.Len(t, m.batches, 3)
	sizes := []int{len(m.batches[0]), len(m.batches[1]), len(m.batches[2])}
	assert.ElementsMatch(t, []int{24, 24, 2}, sizes)
	for _, r := range out {
		assert.Equal(t, domain.PillarShopping, r.Pillar)
	}

	st := s.Status()
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, 3, st.BatchesTotal)
	assert.Equal(t, 3, st.BatchesDone)
	assert.Len(t, s.Results(), 50)
}

func TestEnricher_FailedBatchFallsBack(t *testing.T) {
	m := &MockClassifier{ClassifyFunc: func(_ context.Context, txs []domain.Transaction) ([]Classification, error) {
		if txs[0].ID == "t02" {
			return nil, &RemoteError{Op: "classify", StatusCode: http.StatusTooManyRequests}
		}
		return classifyAll(txs, domain.PillarGroceries), nil
	}}
	e := NewEnricher(m, WithBatchSize(2))
	s := NewSession()

	out, err := e.Run(context.Background(), s, makeTxs(6), "")

	require.NoError(t, err)
	require.Len(t, out, 6)
	for i, r := range out {
		if i == 2 || i == 3 {
			assert.Equal(t, domain.PillarUnclassified, r.Pillar)
			assert.Equal(t, FallbackConfidence, r.Confidence)
			assert.Equal(t, r.Merchant, r.NormalizedMerchant)
			continue
		}
		assert.Equal(t, domain.PillarGroceries, r.Pillar, "siblings unaffected")
	}

	st := s.Status()
	assert.Equal(t, PhaseComplete, st.Phase)
	require.Len(t, st.Warnings, 1)
	assert.Contains(t, st.Warnings[0], "1 of 3 batches failed")
	assert.Contains(t, st.Warnings[0], "Rate limited")
}

func TestEnricher_AllBatchesFail(t *testing.T) {
	m := &MockClassifier{ClassifyFunc: func(context.Context, []domain.Transaction) ([]Classification, error) {
		return nil, &RemoteError{Op: "classify", StatusCode: http.StatusPaymentRequired}
	}}
	e := NewEnricher(m, WithBatchSize(2))
	s := NewSession()

	out, err := e.Run(context.Background(), s, makeTxs(4), "94107")

	require.Error(t, err)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	require.Len(t, out, 4)
	for _, r := range out {
		assert.Equal(t, domain.PillarUnclassified, r.Pillar)
	}
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Contains(t, s.Status().Error, "Quota exhausted")
	require.Error(t, s.Err())
	assert.Len(t, s.Results(), 4)
	assert.Equal(t, 0, m.travelCalls)
}

func TestEnricher_NoHomeZipSkipsTravel(t *testing.T) {
	m := &MockClassifier{}
	s := NewSession()

	txs := makeTxs(3)
	txs[0].ZipCode = "80202"
	txs[1].HomeZip = "N/A"

	_, err := NewEnricher(m).Run(context.Background(), s, txs, "")

	require.NoError(t, err)
	assert.Equal(t, 0, m.travelCalls)
	st := s.Status()
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, MsgClassificationComplete, st.Message)
	assert.Nil(t, st.Travel)
}

func TestEnricher_TravelPhase(t *testing.T) {
	txs := []domain.Transaction{
		tx("home", "Safeway", "30", 1, "94107"),
		tx("hotel", "Hilton Denver", "210", 10, "80202"),
		tx("near", "Corner Store", "5", 11, ""),
		tx("far", "Corner Store", "5", 20, ""),
	}
	var seen []string
	m := &MockClassifier{AnnotateTravelFunc: func(_ context.Context, candidates []domain.TravelCandidate, homeZip string) ([]TravelUpdate, error) {
		assert.Equal(t, "94107", homeZip)
		for _, c := range candidates {
			seen = append(seen, c.Transaction.ID)
		}
		travel := string(domain.PillarTravel)
		return []TravelUpdate{{TransactionID: "near", IsTravelRelated: true, ReclassifiedPillar: &travel}}, nil
	}}
	s := NewSession()

	var phases []Phase
	updates, release := s.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for st := range updates {
			if len(phases) == 0 || phases[len(phases)-1] != st.Phase {
				phases = append(phases, st.Phase)
			}
		}
	}()

	out, err := NewEnricher(m).Run(context.Background(), s, txs, "94107")
	release()
	<-done

	require.NoError(t, err)
	assert.Equal(t, []string{"hotel", "near"}, seen)
	assert.Equal(t, []Phase{PhaseClassifying, PhaseTravel, PhaseComplete}, phases)

	assert.Nil(t, out[0].Travel)
	assert.Nil(t, out[1].Travel)
	require.NotNil(t, out[2].Travel)
	assert.Equal(t, domain.PillarTravel, out[2].Pillar)
	assert.Equal(t, domain.PillarShopping, out[2].Travel.OriginalPillar)

	st := s.Status()
	assert.Equal(t, MsgEnrichmentComplete, st.Message)
	require.NotNil(t, st.Travel)
	assert.Equal(t, 2, st.Travel.Candidates)
	assert.InDelta(t, 50.0, st.Travel.ReductionPercent, 0.001)
}

func TestEnricher_NoCandidatesSkipsRemoteCall(t *testing.T) {
	m := &MockClassifier{}
	s := NewSession()

	txs := []domain.Transaction{tx("a", "Safeway", "30", 1, "94107"), tx("b", "Pharmacy", "8", 9, "")}
	_, err := NewEnricher(m).Run(context.Background(), s, txs, "94107")

	require.NoError(t, err)
	assert.Equal(t, 0, m.travelCalls)
	assert.Equal(t, PhaseComplete, s.Phase())
	assert.Equal(t, MsgNoTravelCandidates, s.Status().Message)
}

func TestEnricher_TravelErrorKeepsClassification(t *testing.T) {
	m := &MockClassifier{AnnotateTravelFunc: func(context.Context, []domain.TravelCandidate, string) ([]TravelUpdate, error) {
		return nil, &StreamError{Op: "travel", Message: "travel model unavailable"}
	}}
	s := NewSession()

	txs := []domain.Transaction{tx("a", "Delta Air Lines", "300", 1, "")}
	txs[0].HomeZip = "94107"
	out, err := NewEnricher(m).Run(context.Background(), s, txs, "")

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.PillarShopping, out[0].Pillar)
	assert.Nil(t, out[0].Travel)
	assert.Equal(t, 1, m.travelCalls)

	st := s.Status()
	assert.Equal(t, PhaseComplete, st.Phase)
	require.Len(t, st.Warnings, 1)
	assert.Contains(t, st.Warnings[0], "travel model unavailable")
}

func TestEnricher_SessionBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	m := &MockClassifier{ClassifyFunc: func(ctx context.Context, txs []domain.Transaction) ([]Classification, error) {
		once.Do(func() { close(started) })
		<-release
		return classifyAll(txs, domain.PillarShopping), nil
	}}
	e := NewEnricher(m)
	s := NewSession()

	errc := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), s, makeTxs(1), "")
		errc <- err
	}()
	<-started

	_, err := e.Run(context.Background(), s, makeTxs(1), "")
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(release)
	require.NoError(t, <-errc)

	_, err = e.Run(context.Background(), s, makeTxs(1), "")
	assert.NoError(t, err, "a completed session can run again")
}

func TestEnricher_Cancel(t *testing.T) {
	m := &MockClassifier{ClassifyFunc: func(ctx context.Context, txs []domain.Transaction) ([]Classification, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := NewSession()

	go func() {
		for s.Phase() != PhaseClassifying {
		}
		s.Cancel()
	}()
	out, err := NewEnricher(m).Run(context.Background(), s, makeTxs(3), "")

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, out, 3)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Equal(t, "Enrichment cancelled", s.Status().Error)
}

func TestSession_Transitions(t *testing.T) {
	assert.True(t, canTransition(PhaseIdle, PhaseClassifying))
	assert.True(t, canTransition(PhaseClassifying, PhaseComplete))
	assert.True(t, canTransition(PhaseClassifying, PhaseTravel))
	assert.True(t, canTransition(PhaseTravel, PhaseComplete))
	assert.False(t, canTransition(PhaseIdle, PhaseTravel))
	assert.False(t, canTransition(PhaseIdle, PhaseComplete))
	assert.False(t, canTransition(PhaseComplete, PhaseTravel))

	s := NewSession()
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Error(t, s.transition(PhaseTravel, "nope"))
}

// End to end over the wire: one batch gets an error event, the others are
// classified, and the travel capability is never called without a home ZIP.
func TestEnricher_EndToEndOverStream(t *testing.T) {
	f := &fakeService{
		ClassifyFunc: func(w http.ResponseWriter, _ *http.Request, req ClassifyRequest, _ int) {
			for _, r := range req.Transactions {
				if strings.HasPrefix(r.Merchant, "BROKEN") {
					_ = sse.NewWriter(w).WriteEvent(EventError, ErrorEvent{Message: "could not classify"})
					return
				}
			}
			classifyOK(w, req)
		},
		TravelFunc: func(w http.ResponseWriter, _ *http.Request, _ TravelRequest, _ int) {
			t.Error("travel must not be called")
		},
	}
	c := newTestClient(t, f)

	txs := []domain.Transaction{
		tx("1", "Cafe", "4", 1, ""),
		tx("2", "Bistro", "20", 2, ""),
		tx("3", "BROKEN ONE", "7", 3, "80202"),
		tx("4", "Tea House", "6", 4, ""),
	}
	s := NewSession()
	out, err := NewEnricher(c, WithBatchSize(2)).Run(context.Background(), s, txs, "")

	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, domain.PillarFoodDining, out[0].Pillar)
	assert.Equal(t, domain.PillarFoodDining, out[1].Pillar)
	assert.Equal(t, domain.PillarUnclassified, out[2].Pillar)
	assert.Equal(t, 0.1, out[2].Confidence)
	assert.Equal(t, "BROKEN ONE", out[2].NormalizedMerchant)
	assert.Equal(t, domain.PillarUnclassified, out[3].Pillar)

	classifyCalls, travelCalls := f.calls()
	assert.Equal(t, 2, classifyCalls, "error events are not retried")
	assert.Equal(t, 0, travelCalls)
	assert.Equal(t, MsgClassificationComplete, s.Status().Message)
	assert.NoError(t, s.Err())
}

func TestEnricher_TwoFilesWithoutIDsKeepTheirOwnClassifications(t *testing.T) {
	sameInstant := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	validator := pipeline.NewValidator()
	validator.Now = func() time.Time { return sameInstant }
	ing := pipeline.NewIngestor(ingest.DefaultRegistry(nil), validator, nil)

	files := ing.IngestAll(context.Background(), []ingest.Source{
		{Name: "a.csv", Data: []byte("Merchant,Amount,Date\nStarbucks,4.50,2025-03-01\n")},
		{Name: "b.csv", Data: []byte("Merchant,Amount,Date\nHilton,210.00,2025-03-02\n")},
	})
	var txs []domain.Transaction
	for _, f := range files {
		require.NoError(t, f.Err)
		require.NotNil(t, f.Result)
		txs = append(txs, f.Result.Transactions...)
	}
	require.Len(t, txs, 2)
	require.NotEqual(t, txs[0].ID, txs[1].ID)

	m := &MockClassifier{ClassifyFunc: func(ctx context.Context, batch []domain.Transaction) ([]Classification, error) {
		out := make([]Classification, len(batch))
		for i, tx := range batch {
			p := domain.PillarFoodDining
			if tx.Merchant == "Hilton" {
				p = domain.PillarTravel
			}
			out[i] = Classification{ID: tx.ID, NormalizedMerchant: tx.Merchant, Pillar: string(p), Confidence: 0.9}
		}
		return out, nil
	}}

	out, err := NewEnricher(m).Run(context.Background(), NewSession(), txs, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, domain.PillarFoodDining, out[0].Pillar)
	assert.Equal(t, domain.PillarTravel, out[1].Pillar)
}

func TestEnricher_RekeysDuplicateSourceIDs(t *testing.T) {
	txs := []domain.Transaction{
		tx("dup", "Starbucks", "4.50", 1, ""),
		tx("dup", "Hilton", "210", 2, ""),
		tx("dup#2", "Shell", "40", 3, ""),
	}
	m := &MockClassifier{ClassifyFunc: func(ctx context.Context, batch []domain.Transaction) ([]Classification, error) {
		out := make([]Classification, len(batch))
		for i, tx := range batch {
			out[i] = Classification{ID: tx.ID, NormalizedMerchant: "N " + tx.Merchant, Pillar: string(domain.PillarShopping), Confidence: 0.9}
		}
		return out, nil
	}}
	s := NewSession()

	out, err := NewEnricher(m).Run(context.Background(), s, txs, "")
	require.NoError(t, err)
	require.Len(t, out, 3)

	ids := map[string]bool{}
	for _, r := range out {
		ids[r.ID] = true
		assert.Equal(t, "N "+r.Merchant, r.NormalizedMerchant)
	}
	assert.Len(t, ids, 3)
	assert.Equal(t, "dup", out[0].ID)
	assert.Equal(t, "dup#3", out[1].ID)
	assert.Equal(t, "dup#2", out[2].ID)
	assert.Equal(t, "dup", txs[1].ID, "input must not be mutated")
	require.Len(t, s.Status().Warnings, 1)
	assert.Contains(t, s.Status().Warnings[0], "renamed")
}
