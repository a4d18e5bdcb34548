// Package monitoring evaluates finished runs against health thresholds and
// delivers alerts to a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertErrorRate   AlertType = "run_error_rate"
	AlertQuota       AlertType = "quota_exhausted"
	AlertNoProviders AlertType = "no_providers"
)

// minAttempts keeps tiny runs from tripping the error-rate alert.
const minAttempts = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates run stats against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks a finished run and returns any alerts.
func (a *Alerter) Evaluate(stats *model.RunStats) []Alert {
	if stats == nil {
		return nil
	}
	var alerts []Alert
	now := a.now().UTC()

	if stats.Attempted >= minAttempts && a.cfg.ErrorRateThreshold > 0 {
		rate := float64(stats.Errored) / float64(stats.Attempted)
		if rate > a.cfg.ErrorRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertErrorRate,
				Severity: "high",
				RunID:    stats.RunID,
				Message: fmt.Sprintf(
					"Run error rate %.1f%% exceeds threshold %.1f%% (%d errored / %d attempted)",
					rate*100, a.cfg.ErrorRateThreshold*100, stats.Errored, stats.Attempted,
				),
				Details: map[string]any{
					"error_rate": rate,
					"threshold":  a.cfg.ErrorRateThreshold,
					"errored":    stats.Errored,
					"attempted":  stats.Attempted,
				},
				Timestamp: now,
			})
		}
	}

	var exhausted []string
	for _, e := range stats.Errors {
		if e.Kind == "quota_exceeded" && !slices.Contains(exhausted, string(e.Source)) {
			exhausted = append(exhausted, string(e.Source))
		}
	}
	if len(exhausted) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertQuota,
			Severity:  "medium",
			RunID:     stats.RunID,
			Message:   fmt.Sprintf("Daily quota exhausted for %v during run in %s", exhausted, stats.Location),
			Details:   map[string]any{"sources": exhausted},
			Timestamp: now,
		})
	}

	if stats.New == 0 && stats.Duplicates == 0 {
		alerts = append(alerts, Alert{
			Type:      AlertNoProviders,
			Severity:  "low",
			RunID:     stats.RunID,
			Message:   fmt.Sprintf("No providers found for %s in %s", stats.Category, stats.Location),
			Details:   map[string]any{"attempted": stats.Attempted},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// Check evaluates stats, logs every alert and sends them when a webhook is
// configured.
func (a *Alerter) Check(ctx context.Context, stats *model.RunStats) []Alert {
	alerts := a.Evaluate(stats)
	for _, al := range alerts {
		zap.L().Warn("monitoring: run alert",
			zap.String("type", string(al.Type)),
			zap.String("severity", al.Severity),
			zap.String("message", al.Message),
		)
	}
	a.SendAlerts(ctx, alerts)
	return alerts
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
