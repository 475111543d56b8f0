package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/config"
	"whatsapp-context-scheduler/pkg/metrics"
	"whatsapp-context-scheduler/pkg/models"
)

// storeTimeout bounds context store round-trips on the flush path. Ingress
// paths never touch the store synchronously.
const storeTimeout = 2 * time.Second

// Pipeline is the opaque execution collaborator: transcription, intent
// detection, reply synthesis and sending live behind it. The scheduler only
// observes its success or failure.
type Pipeline interface {
	Process(ctx context.Context, unit models.CoalescedUnit) error
}

// ContextStore is the optional persistent backing for activity records and
// override flags. May be nil, in which case the process is purely in-memory.
type ContextStore interface {
	SaveActivity(ctx context.Context, record models.ActivityRecord) error
	LoadActivity(ctx context.Context, key string) (*models.ActivityRecord, error)
	SaveOverride(ctx context.Context, key string, active bool) error
	LoadOverride(ctx context.Context, key string) (bool, bool, error)
}

// Scheduler is the composition root: inbound fragments feed the aggregator,
// aggregator flushes consult the delay engine, and coalesced units are handed
// to the serializer for ordered execution against the pipeline.
type Scheduler struct {
	cfg      *config.Config
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	pipeline Pipeline
	store    ContextStore

	tracker    *ActivityTracker
	engine     *DelayEngine
	aggregator *Aggregator
	serializer *Serializer

	overrideMu sync.RWMutex
	overrides  map[string]bool
}

func NewScheduler(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics, pipeline Pipeline, store ContextStore) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		pipeline:  pipeline,
		store:     store,
		overrides: make(map[string]bool),
	}

	s.tracker = NewActivityTracker()
	s.engine = NewDelayEngine(s.tracker, cfg.ActivityWindow(), cfg.ContextDelay())
	s.aggregator = NewAggregator(cfg.DebounceWindow(), s.onFlush, logger, m)
	s.serializer = NewSerializer(logger, m)

	return s
}

// HandleFragment accepts one inbound user message. It normalizes the key,
// buffers the fragment and (re)starts the debounce window. Never waits on
// network I/O; the only error surfaced is an unusable key.
func (s *Scheduler) HandleFragment(rawKey, messageID, text string, receivedAt time.Time) error {
	key, err := models.NormalizeKey(rawKey)
	if err != nil {
		return err
	}

	if strings.TrimSpace(text) == "" {
		s.logger.WithField("conversation_key", key).Debug("Ignoring empty fragment")
		return nil
	}

	if s.overrideActive(key) {
		s.metrics.OverrideDrops.Inc()
		s.logger.WithField("conversation_key", key).Info("Human override active, dropping fragment")
		return nil
	}

	s.aggregator.Add(key, models.Fragment{
		MessageID:  messageID,
		Text:       text,
		ReceivedAt: receivedAt,
	})
	return nil
}

// HandleEdit applies an edited-message callback: if the message is still
// sitting in an open buffer its text is replaced in place and the window
// restarts; otherwise the edit is ignored.
func (s *Scheduler) HandleEdit(rawKey, messageID, text string) error {
	key, err := models.NormalizeKey(rawKey)
	if err != nil {
		return err
	}

	if !s.aggregator.Edit(key, messageID, text) {
		s.logger.WithFields(logrus.Fields{
			"conversation_key": key,
			"message_id":       messageID,
		}).Debug("Edit ignored, message no longer buffered")
	}
	return nil
}

// MarkSystemMessage records that an external subsystem sent a message to the
// user outside the reply path. Unknown categories are tracked as generic
// system messages. The optional store write happens asynchronously so the
// caller never waits on Redis.
func (s *Scheduler) MarkSystemMessage(rawKey, rawCategory string, sentAt time.Time) error {
	key, err := models.NormalizeKey(rawKey)
	if err != nil {
		return err
	}

	category := models.ParseCategory(rawCategory)
	s.tracker.Mark(key, category, sentAt)

	s.logger.WithFields(logrus.Fields{
		"conversation_key": key,
		"category":         category,
	}).Info("System message marked")

	if s.store != nil {
		record := models.ActivityRecord{Key: key, Category: category, SentAt: sentAt}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := s.store.SaveActivity(ctx, record); err != nil {
				s.logger.WithError(err).WithField("conversation_key", key).Warn("Failed to persist activity record")
			}
		}()
	}
	return nil
}

// SetOverride toggles the human-override flag for a conversation. While
// active, inbound fragments are acknowledged and dropped so a human can take
// over the thread.
func (s *Scheduler) SetOverride(rawKey string, active bool) error {
	key, err := models.NormalizeKey(rawKey)
	if err != nil {
		return err
	}

	s.overrideMu.Lock()
	if active {
		s.overrides[key] = true
	} else {
		delete(s.overrides, key)
	}
	s.overrideMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"conversation_key": key,
		"active":           active,
	}).Info("Human override updated")

	if s.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := s.store.SaveOverride(ctx, key, active); err != nil {
				s.logger.WithError(err).WithField("conversation_key", key).Warn("Failed to persist override flag")
			}
		}()
	}
	return nil
}

// Stop tears the scheduler down: pending buffers are discarded (documented
// data loss) and in-flight units get until ctx expires to finish. A flush
// racing past the aggregator's stop is refused by the serializer, so Wait
// never misses a unit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.aggregator.Stop()
	return s.serializer.Stop(ctx)
}

// EvictStale garbage-collects activity records older than several activity
// windows and drained serializer queues. Called periodically by the service.
func (s *Scheduler) EvictStale(now time.Time) {
	evicted := s.tracker.Evict(s.cfg.ActivityEvictAge(), now)
	idle := s.serializer.EvictIdle()

	if evicted > 0 || idle > 0 {
		s.logger.WithFields(logrus.Fields{
			"activity_records": evicted,
			"idle_queues":      idle,
		}).Info("Evicted stale conversation state")
	}
}

// onFlush runs when a debounce window closes. It submits to the serializer
// immediately, before any store round-trip: the unit's queue position is fixed
// the moment its window closes, so a slow hydration read for one flush can
// never let a later window's unit overtake it. Hydration, the delay decision
// and the delay itself all run inside the queued work.
func (s *Scheduler) onFlush(key string, fragments []models.Fragment, closedAt time.Time) {
	texts := make([]string, len(fragments))
	for i, fragment := range fragments {
		texts[i] = fragment.Text
	}

	unit := models.CoalescedUnit{
		ID:            uuid.New().String(),
		Key:           key,
		Text:          strings.Join(texts, "\n"),
		FragmentCount: len(fragments),
		WindowClosed:  closedAt,
	}

	// The budget covers store hydration, the worst-case context delay and the
	// pipeline call so a delayed unit is not penalized on its pipeline time.
	budget := s.cfg.PipelineTimeout() + s.cfg.ContextDelay() + 2*storeTimeout
	s.serializer.Submit(key, unit.ID, budget, func(ctx context.Context) error {
		return s.processUnit(ctx, unit)
	})
}

func (s *Scheduler) processUnit(ctx context.Context, unit models.CoalescedUnit) error {
	if s.hydrateOverride(ctx, unit.Key) {
		s.metrics.OverrideDrops.Inc()
		s.logger.WithFields(logrus.Fields{
			"conversation_key": unit.Key,
			"unit_id":          unit.ID,
		}).Info("Human override active, dropping coalesced unit")
		return nil
	}
	s.hydrateActivity(ctx, unit.Key)

	decision := s.engine.Decide(unit.Key, unit.WindowClosed)
	if decision.Apply {
		unit.Delay = decision.Delay
		unit.DelayReason = decision.Reason
	}

	fields := logrus.Fields{
		"conversation_key": unit.Key,
		"unit_id":          unit.ID,
		"fragments":        unit.FragmentCount,
	}
	if decision.Apply {
		s.metrics.DelayedUnits.WithLabelValues(string(decision.Reason)).Inc()
		fields["delay"] = decision.Delay
		fields["reason"] = decision.Reason
		s.logger.WithFields(fields).Info("Applying context delay before reply")

		timer := time.NewTimer(unit.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		s.logger.WithFields(fields).Info("Coalesced unit ready")
	}

	return s.pipeline.Process(ctx, unit)
}

func (s *Scheduler) overrideActive(key string) bool {
	s.overrideMu.RLock()
	defer s.overrideMu.RUnlock()
	return s.overrides[key]
}

// hydrateOverride checks the in-memory flag first and falls back to the
// store; a flag found there is cached so later ingress checks are local.
func (s *Scheduler) hydrateOverride(ctx context.Context, key string) bool {
	if s.overrideActive(key) {
		return true
	}
	if s.store == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	active, found, err := s.store.LoadOverride(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("conversation_key", key).Warn("Failed to load override flag")
		return false
	}
	if found && active {
		s.overrideMu.Lock()
		s.overrides[key] = true
		s.overrideMu.Unlock()
		return true
	}
	return false
}

// hydrateActivity backfills the tracker from the store on a memory miss so a
// system message marked before a restart still delays the reply.
func (s *Scheduler) hydrateActivity(ctx context.Context, key string) {
	if s.store == nil {
		return
	}
	if _, _, ok := s.tracker.TimeSince(key, time.Now()); ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	record, err := s.store.LoadActivity(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("conversation_key", key).Warn("Failed to load activity record")
		return
	}
	if record != nil {
		s.tracker.Hydrate(*record)
	}
}

// KeySnapshot is a read-only view of one conversation's state, for the
// operational status surface.
type KeySnapshot struct {
	Key                  string          `json:"key"`
	State                string          `json:"state"`
	BufferedFragments    int             `json:"buffered_fragments,omitempty"`
	QueuedUnits          int             `json:"queued_units,omitempty"`
	LastSystemCategory   models.Category `json:"last_system_category,omitempty"`
	LastSystemAgeSeconds float64         `json:"last_system_age_seconds,omitempty"`
	OverrideActive       bool            `json:"override_active,omitempty"`
}

// Snapshot returns the current per-key states, sorted by key. Not required
// for correctness, only for operational visibility.
func (s *Scheduler) Snapshot(now time.Time) []KeySnapshot {
	keys := make(map[string]struct{})
	for _, key := range s.aggregator.Keys() {
		keys[key] = struct{}{}
	}
	for _, key := range s.serializer.Keys() {
		keys[key] = struct{}{}
	}

	s.overrideMu.RLock()
	for key := range s.overrides {
		keys[key] = struct{}{}
	}
	s.overrideMu.RUnlock()

	snapshots := make([]KeySnapshot, 0, len(keys))
	for key := range keys {
		snap := KeySnapshot{
			Key:               key,
			State:             "idle",
			BufferedFragments: s.aggregator.BufferedFor(key),
			QueuedUnits:       s.serializer.QueueDepth(key),
			OverrideActive:    s.overrideActive(key),
		}
		if snap.BufferedFragments > 0 {
			snap.State = "accumulating"
		} else if s.serializer.Busy(key) {
			snap.State = "processing"
		}
		if record, ok := s.tracker.Record(key); ok {
			snap.LastSystemCategory = record.Category
			snap.LastSystemAgeSeconds = now.Sub(record.SentAt).Seconds()
		}
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Key < snapshots[j].Key })
	return snapshots
}

// OpenBuffers reports the number of conversations currently accumulating.
func (s *Scheduler) OpenBuffers() int {
	return s.aggregator.OpenCount()
}
