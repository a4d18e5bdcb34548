package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/model"
)

func testStats() *model.RunStats {
	s := model.NewRunStats("run-1", "Austin, TX", model.CategoryMassage, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	s.Attempted = 10
	s.New = 8
	return s
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ErrorRateThreshold: 0.5})
	assert.Empty(t, a.Evaluate(testStats()))
	assert.Empty(t, a.Evaluate(nil))
}

func TestAlerter_Evaluate_ErrorRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ErrorRateThreshold: 0.5})
	s := testStats()
	for range 6 {
		s.AddError(model.RunError{Source: model.SourceWebsite, Kind: "fetch", Message: "status 500"})
	}

	alerts := a.Evaluate(s)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertErrorRate, alerts[0].Type)
	assert.Equal(t, "run-1", alerts[0].RunID)
	assert.Contains(t, alerts[0].Message, "60.0%")
}

func TestAlerter_Evaluate_MinimumAttemptsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{ErrorRateThreshold: 0.1})
	s := testStats()
	s.Attempted = 4
	s.Errored = 4

	for _, al := range a.Evaluate(s) {
		assert.NotEqual(t, AlertErrorRate, al.Type)
	}
}

func TestAlerter_Evaluate_Quota(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	s := testStats()
	s.AddError(model.RunError{Source: model.SourceGooglePlaces, Kind: "quota_exceeded", Message: "daily limit"})

	alerts := a.Evaluate(s)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQuota, alerts[0].Type)
	assert.Equal(t, []string{"google_places"}, alerts[0].Details["sources"])
}

func TestAlerter_Evaluate_NoProviders(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	s := testStats()
	s.New = 0

	alerts := a.Evaluate(s)

	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoProviders, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "MASSAGE")
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertErrorRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertQuota, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_Check(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	s := testStats()
	s.New = 0

	alerts := a.Check(context.Background(), s)

	assert.Len(t, alerts, 1)
	assert.Equal(t, int32(1), received.Load())
}
