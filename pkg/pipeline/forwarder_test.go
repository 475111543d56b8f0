package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-context-scheduler/pkg/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testUnit() models.CoalescedUnit {
	return models.CoalescedUnit{
		ID:            "u1",
		Key:           "5511999999999",
		Text:          "Viagem\nVou pra Inglaterra",
		FragmentCount: 2,
		WindowClosed:  time.Now(),
	}
}

func TestForwarder_PostsUnit(t *testing.T) {
	var received models.CoalescedUnit
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	forwarder := NewForwarder(srv.URL, newTestLogger())
	require.NoError(t, forwarder.Process(context.Background(), testUnit()))

	assert.Equal(t, "u1", received.ID)
	assert.Equal(t, "5511999999999", received.Key)
	assert.Equal(t, 2, received.FragmentCount)
}

func TestForwarder_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	forwarder := NewForwarder(srv.URL, newTestLogger())
	err := forwarder.Process(context.Background(), testUnit())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestForwarder_RespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server observes the client's disconnect
		// and the request context is cancelled; otherwise srv.Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	forwarder := NewForwarder(srv.URL, newTestLogger())
	assert.Error(t, forwarder.Process(ctx, testUnit()))
}

func TestLogOnly_AlwaysSucceeds(t *testing.T) {
	p := NewLogOnly(newTestLogger())
	assert.NoError(t, p.Process(context.Background(), testUnit()))
}
