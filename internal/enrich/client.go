package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/logger"
	"github.com/dvloznov/spend-enricher/internal/sse"
)

// Request defaults.
const (
	DefaultTimeout    = 60 * time.Second
	DefaultClassify   = "/classify"
	DefaultTravelPath = "/travel"

	maxErrorBody = 4 << 10
)

// Progress is an informational event surfaced while a stream is read.
type Progress struct {
	Kind         string
	Message      string
	BatchNum     int
	TotalBatches int
	Count        int
}

// ProgressFunc receives progress events. It may be nil.
type ProgressFunc func(Progress)

// Client talks to the remote classification service over event streams.
type Client struct {
	baseURL      string
	classifyPath string
	travelPath   string
	apiKey       string
	httpClient   *http.Client
	timeout      time.Duration
	retry        RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) ClientOption { return func(c *Client) { c.apiKey = key } }

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.httpClient = hc } }

// WithTimeout bounds each individual attempt, including reading its stream.
func WithTimeout(d time.Duration) ClientOption { return func(c *Client) { c.timeout = d } }

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ClientOption { return func(c *Client) { c.retry = p } }

// WithPaths overrides the classification and travel endpoint paths.
func WithPaths(classify, travel string) ClientOption {
	return func(c *Client) {
		if classify != "" {
			c.classifyPath = classify
		}
		if travel != "" {
			c.travelPath = travel
		}
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		classifyPath: DefaultClassify,
		travelPath:   DefaultTravelPath,
		httpClient:   &http.Client{},
		timeout:      DefaultTimeout,
		retry:        DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify submits one batch and returns the classifications from its done
// event. An error event fails the submission without retry.
func (c *Client) Classify(ctx context.Context, txs []domain.Transaction, progress ProgressFunc) ([]Classification, error) {
	req := ClassifyRequest{Transactions: make([]Record, len(txs))}
	for i, tx := range txs {
		req.Transactions[i] = recordOf(tx)
	}

	var result []Classification
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		result = nil
		return c.stream(ctx, "classify", c.classifyPath, req, func(ev eventData) (bool, error) {
			switch ev.name {
			case EventBatchComplete:
				var bc BatchCompleteEvent
				if !ev.decode(ctx, &bc) {
					return false, nil
				}
				emit(progress, Progress{Kind: ev.name, BatchNum: bc.BatchNum, TotalBatches: bc.TotalBatches, Count: bc.Count})
			case EventDone:
				var done ClassifyDoneEvent
				if !ev.decode(ctx, &done) {
					return false, nil
				}
				result = done.EnrichedTransactions
				return true, nil
			}
			return false, nil
		}, progress)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AnnotateTravel sends all candidates in one call and returns the updates
// from its travel_updates event.
func (c *Client) AnnotateTravel(ctx context.Context, candidates []domain.TravelCandidate, homeZip string, progress ProgressFunc) ([]TravelUpdate, error) {
	req := TravelRequest{Transactions: make([]Record, len(candidates)), HomeZip: homeZip}
	for i, cand := range candidates {
		r := recordOf(cand.Transaction.Transaction)
		r.Pillar = string(cand.Transaction.Pillar)
		r.Subcategory = cand.Transaction.Subcategory
		r.Reason = cand.Reason
		req.Transactions[i] = r
	}

	var updates []TravelUpdate
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		updates = nil
		return c.stream(ctx, "travel", c.travelPath, req, func(ev eventData) (bool, error) {
			switch ev.name {
			case EventTravelUpdates:
				u, err := decodeTravelUpdates(ev.data)
				if err != nil {
					log := logger.FromContext(ctx)
					log.Warn().Err(err).Str("event", ev.name).Msg("Skipping malformed event")
					return false, nil
				}
				updates = append(updates, u...)
			case EventDone:
				return true, nil
			}
			return false, nil
		}, progress)
	})
	if err != nil {
		return nil, err
	}
	return updates, nil
}

type eventData struct {
	name string
	data []byte
}

// decode unmarshals the payload, logging and reporting false when it is
// malformed so the caller can skip the frame.
func (e eventData) decode(ctx context.Context, v interface{}) bool {
	if err := json.Unmarshal(e.data, v); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("event", e.name).Msg("Skipping malformed event")
		return false
	}
	return true
}

func emit(progress ProgressFunc, p Progress) {
	if progress != nil {
		progress(p)
	}
}

// stream performs one attempt: POST body to path and feed every event to
// handle until it reports completion. Status and error events are handled
// here for every stream kind.
func (c *Client) stream(ctx context.Context, op, path string, body interface{}, handle func(eventData) (bool, error), progress ProgressFunc) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", sse.ContentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return &TransportError{Op: op, Err: ErrStreamEnded}
		}
		if err != nil {
			return transportError(ctx, op, err)
		}

		ed := eventData{name: ev.Name, data: ev.Data}
		switch ev.Name {
		case EventStatus:
			var st StatusEvent
			if ed.decode(ctx, &st) {
				emit(progress, Progress{Kind: ev.Name, Message: st.Message})
			}
			continue
		case EventError:
			var ee ErrorEvent
			if !ed.decode(ctx, &ee) {
				continue
			}
			if ee.Message == "" {
				ee.Message = "classification service reported an error"
			}
			return &StreamError{Op: op, Message: ee.Message}
		}

		done, err := handle(ed)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
