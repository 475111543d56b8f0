package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/constants"
	"whatsapp-context-scheduler/pkg/metrics"
	"whatsapp-context-scheduler/pkg/models"
)

// ContextStore persists per-conversation context data (system-activity
// records and human-override flags) so that marks survive a restart. It is
// strictly optional: the in-memory state stays authoritative and the store
// is only consulted on a memory miss.
type ContextStore struct {
	rdb     *redis.Client
	logger  *logrus.Logger
	metrics *metrics.Metrics
	ttl     time.Duration
}

func NewContextStore(client *Client, ttl time.Duration, logger *logrus.Logger, metrics *metrics.Metrics) *ContextStore {
	return &ContextStore{
		rdb:     client.GetRedisClient(),
		logger:  logger,
		metrics: metrics,
		ttl:     ttl,
	}
}

func (s *ContextStore) SaveActivity(ctx context.Context, record models.ActivityRecord) error {
	start := time.Now()
	defer func() {
		s.metrics.StoreOperationDuration.WithLabelValues("save_activity").Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode activity record: %w", err)
	}

	if err := s.rdb.Set(ctx, constants.ActivityKeyPrefix+record.Key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save activity record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_key": record.Key,
		"category":         record.Category,
	}).Debug("Persisted activity record")

	return nil
}

func (s *ContextStore) LoadActivity(ctx context.Context, key string) (*models.ActivityRecord, error) {
	start := time.Now()
	defer func() {
		s.metrics.StoreOperationDuration.WithLabelValues("load_activity").Observe(time.Since(start).Seconds())
	}()

	payload, err := s.rdb.Get(ctx, constants.ActivityKeyPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load activity record: %w", err)
	}

	var record models.ActivityRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("invalid activity record format: %w", err)
	}

	return &record, nil
}

func (s *ContextStore) SaveOverride(ctx context.Context, key string, active bool) error {
	start := time.Now()
	defer func() {
		s.metrics.StoreOperationDuration.WithLabelValues("save_override").Observe(time.Since(start).Seconds())
	}()

	if !active {
		if err := s.rdb.Del(ctx, constants.OverrideKeyPrefix+key).Err(); err != nil {
			return fmt.Errorf("failed to clear override flag: %w", err)
		}
		return nil
	}

	if err := s.rdb.Set(ctx, constants.OverrideKeyPrefix+key, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save override flag: %w", err)
	}
	return nil
}

// LoadOverride returns the override flag and whether one was present.
func (s *ContextStore) LoadOverride(ctx context.Context, key string) (bool, bool, error) {
	start := time.Now()
	defer func() {
		s.metrics.StoreOperationDuration.WithLabelValues("load_override").Observe(time.Since(start).Seconds())
	}()

	_, err := s.rdb.Get(ctx, constants.OverrideKeyPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to load override flag: %w", err)
	}
	return true, true, nil
}
