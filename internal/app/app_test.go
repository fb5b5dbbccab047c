package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spend-enricher/internal/config"
	"github.com/dvloznov/spend-enricher/internal/enrich"
)

func TestRetryPolicy_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Classifier.MaxAttempts = 3
	cfg.Classifier.RetryDelay = 500 * time.Millisecond

	p := RetryPolicy(cfg)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.Delay)
	require.NotNil(t, p.Retryable)
	assert.True(t, p.Retryable(&enrich.TransportError{Op: "classify"}))
	assert.False(t, p.Retryable(&enrich.RemoteError{Op: "classify", StatusCode: 429}))
}

func TestTravelOptions_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Travel.WindowDays = 5
	cfg.Travel.Keywords = []string{"hostel"}

	o := TravelOptions(cfg)
	assert.Equal(t, 5, o.WindowDays)
	assert.Equal(t, []string{"hostel"}, o.Keywords)
}

func TestNewEnricher(t *testing.T) {
	assert.NotNil(t, NewEnricher(config.Default()))
}
