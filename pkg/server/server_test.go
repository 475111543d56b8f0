package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-context-scheduler/pkg/config"
	"whatsapp-context-scheduler/pkg/metrics"
	"whatsapp-context-scheduler/pkg/models"
	"whatsapp-context-scheduler/pkg/scheduler"
)

type discardPipeline struct{}

func (discardPipeline) Process(ctx context.Context, unit models.CoalescedUnit) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Port:                   "8080",
		DebounceWindowSeconds:  3600, // Never flushes during the test
		ContextDelaySeconds:    30,
		ActivityWindowSeconds:  300,
		PipelineTimeoutSeconds: 120,
		CleanupIntervalSeconds: 60,
		ActivityEvictMultiple:  3,
		InstanceID:             "test-instance",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	sched := scheduler.NewScheduler(cfg, logger, m, discardPipeline{}, nil)
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })

	srv := httptest.NewServer(NewHTTPServer(cfg, sched, logger).Handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body map[string]interface{}) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestServer_FragmentAccepted(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/conversations/5511999999999/fragments", map[string]interface{}{
		"message_id": "m1",
		"text":       "oi, tudo bem?",
	})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "accepted", body["status"])
}

func TestServer_FragmentInvalidKey(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/conversations/not-a-number/fragments", map[string]interface{}{
		"message_id": "m1",
		"text":       "oi",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_FragmentInvalidBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/conversations/5511999999999/fragments", "application/json", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SystemMessageAccepted(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/conversations/5511999999999/system-message", map[string]interface{}{
		"category": "meeting_confirmation",
	})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestServer_OverrideToggle(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/conversations/5511999999999/override", map[string]interface{}{
		"active": true,
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["active"])
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test-instance", body["instance_id"])
}

func TestServer_StatusListsConversations(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/conversations/5511999999999/fragments", map[string]interface{}{
		"message_id": "m1",
		"text":       "oi",
	})

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	conversations, ok := body["conversations"].([]interface{})
	require.True(t, ok)
	require.Len(t, conversations, 1)

	conversation := conversations[0].(map[string]interface{})
	assert.Equal(t, "5511999999999", conversation["key"])
	assert.Equal(t, "accumulating", conversation["state"])
}

func TestServer_MetricsExposed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
