package scheduler

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"whatsapp-context-scheduler/pkg/metrics"
	"whatsapp-context-scheduler/pkg/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func TestActivityTracker_MarkAndTimeSince(t *testing.T) {
	tracker := NewActivityTracker()
	now := time.Now()

	tracker.Mark("5511999999999", models.CategoryMeetingConfirmation, now)

	elapsed, category, ok := tracker.TimeSince("5511999999999", now.Add(45*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 45*time.Second, elapsed)
	assert.Equal(t, models.CategoryMeetingConfirmation, category)
}

func TestActivityTracker_NoRecord(t *testing.T) {
	tracker := NewActivityTracker()

	_, _, ok := tracker.TimeSince("5511999999999", time.Now())
	assert.False(t, ok)
}

func TestActivityTracker_LastWriteWins(t *testing.T) {
	tracker := NewActivityTracker()
	now := time.Now()

	tracker.Mark("5511999999999", models.CategoryReminder, now)
	tracker.Mark("5511999999999", models.CategoryPaymentConfirmation, now.Add(10*time.Second))

	elapsed, category, ok := tracker.TimeSince("5511999999999", now.Add(30*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 20*time.Second, elapsed)
	assert.Equal(t, models.CategoryPaymentConfirmation, category)
	assert.Equal(t, 1, tracker.Len())
}

func TestActivityTracker_Hydrate(t *testing.T) {
	tracker := NewActivityTracker()
	now := time.Now()

	tracker.Hydrate(models.ActivityRecord{Key: "k1", Category: models.CategoryReminder, SentAt: now})

	record, ok := tracker.Record("k1")
	assert.True(t, ok)
	assert.Equal(t, models.CategoryReminder, record.Category)

	// A newer in-memory record is never overwritten by a stale store read.
	tracker.Mark("k1", models.CategoryNotification, now.Add(time.Minute))
	tracker.Hydrate(models.ActivityRecord{Key: "k1", Category: models.CategoryReminder, SentAt: now})

	record, _ = tracker.Record("k1")
	assert.Equal(t, models.CategoryNotification, record.Category)
}

func TestActivityTracker_Evict(t *testing.T) {
	tracker := NewActivityTracker()
	now := time.Now()

	tracker.Mark("old", models.CategorySystem, now.Add(-2*time.Hour))
	tracker.Mark("fresh", models.CategorySystem, now)

	removed := tracker.Evict(time.Hour, now)
	assert.Equal(t, 1, removed)

	_, _, ok := tracker.TimeSince("old", now)
	assert.False(t, ok)
	_, _, ok = tracker.TimeSince("fresh", now)
	assert.True(t, ok)
}
