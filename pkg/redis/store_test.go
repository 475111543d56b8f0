package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-context-scheduler/pkg/metrics"
	"whatsapp-context-scheduler/pkg/models"
)

// newIntegrationStore connects to a local Redis and skips the test when none
// is reachable, so the suite stays runnable without infrastructure.
func newIntegrationStore(t *testing.T) *ContextStore {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	connCfg := DefaultConnectionConfig()
	connCfg.URL = "redis://localhost:6379/0"

	client, err := NewClient(connCfg, logger)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewContextStore(client, time.Minute, logger, metrics.NewMetrics(prometheus.NewRegistry()))
}

func TestContextStore_ActivityRoundtrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	key := uuid.New().String()

	record := models.ActivityRecord{
		Key:      key,
		Category: models.CategoryMeetingConfirmation,
		SentAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveActivity(ctx, record))

	loaded, err := store.LoadActivity(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, record.Key, loaded.Key)
	assert.Equal(t, record.Category, loaded.Category)
	assert.True(t, record.SentAt.Equal(loaded.SentAt))
}

func TestContextStore_LoadActivityMiss(t *testing.T) {
	store := newIntegrationStore(t)

	loaded, err := store.LoadActivity(context.Background(), uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestContextStore_OverrideRoundtrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	key := uuid.New().String()

	active, found, err := store.LoadOverride(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, active)

	require.NoError(t, store.SaveOverride(ctx, key, true))

	active, found, err = store.LoadOverride(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, active)

	// Clearing removes the flag entirely.
	require.NoError(t, store.SaveOverride(ctx, key, false))

	_, found, err = store.LoadOverride(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}
