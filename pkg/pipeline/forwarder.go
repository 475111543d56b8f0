// Package pipeline carries the execution collaborator boundary: the
// scheduler hands it a coalesced unit and only observes success or failure.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/models"
)

// Forwarder posts coalesced units to the downstream relay endpoint that runs
// transcription, intent detection, synthesis and sending.
type Forwarder struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

func NewForwarder(url string, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		url: url,
		client: &http.Client{
			// The serializer already bounds each unit via context; this is a
			// backstop for requests issued without a deadline.
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

func (f *Forwarder) Process(ctx context.Context, unit models.CoalescedUnit) error {
	payload, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("failed to encode unit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build pipeline request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pipeline returned status %d", resp.StatusCode)
	}

	f.logger.WithFields(logrus.Fields{
		"conversation_key": unit.Key,
		"unit_id":          unit.ID,
	}).Debug("Unit forwarded to pipeline")

	return nil
}

// LogOnly is a pipeline that records units without forwarding them anywhere,
// used when no downstream endpoint is configured.
type LogOnly struct {
	logger *logrus.Logger
}

func NewLogOnly(logger *logrus.Logger) *LogOnly {
	return &LogOnly{logger: logger}
}

func (p *LogOnly) Process(ctx context.Context, unit models.CoalescedUnit) error {
	p.logger.WithFields(logrus.Fields{
		"conversation_key": unit.Key,
		"unit_id":          unit.ID,
		"fragments":        unit.FragmentCount,
		"text":             unit.Text,
	}).Info("Pipeline endpoint not configured, unit logged only")
	return nil
}
