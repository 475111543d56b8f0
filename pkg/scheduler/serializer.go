package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-context-scheduler/pkg/metrics"
)

// UnitWork performs the end-to-end processing of one coalesced unit against
// the external pipeline. The context bounds the unit's total duration.
type UnitWork func(ctx context.Context) error

// Serializer guarantees that, per conversation key, at most one unit of work
// is in flight at a time and units execute strictly in submission order.
// Distinct keys proceed fully in parallel. A failing unit never blocks the
// next one for its key, and an expired context still releases the key's slot.
type Serializer struct {
	mu      sync.Mutex
	queues  map[string]*keyQueue
	stopped bool

	logger  *logrus.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

type keyQueue struct {
	units    []queuedUnit
	draining bool
}

type queuedUnit struct {
	id     string
	budget time.Duration
	work   UnitWork
}

func NewSerializer(logger *logrus.Logger, m *metrics.Metrics) *Serializer {
	return &Serializer{
		queues:  make(map[string]*keyQueue),
		logger:  logger,
		metrics: m,
	}
}

// Submit enqueues work behind anything already queued for key. The budget
// bounds the unit's execution, context delay included. Submit never blocks.
// After Stop, submissions are refused so shutdown never misses a unit.
func (s *Serializer) Submit(key, unitID string, budget time.Duration, work UnitWork) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"conversation_key": key,
			"unit_id":          unitID,
		}).Warn("Serializer stopped, discarding unit")
		return
	}
	q, ok := s.queues[key]
	if !ok {
		q = &keyQueue{}
		s.queues[key] = q
	}
	q.units = append(q.units, queuedUnit{id: unitID, budget: budget, work: work})
	start := !q.draining
	if start {
		q.draining = true
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.metrics.QueuedUnits.Inc()

	if start {
		go s.drain(key, q)
	}
}

// QueueDepth reports how many units are queued (not yet started) for key.
func (s *Serializer) QueueDepth(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[key]; ok {
		return len(q.units)
	}
	return 0
}

// Busy reports whether a unit for key is queued or executing.
func (s *Serializer) Busy(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[key]
	return ok && (q.draining || len(q.units) > 0)
}

// Keys returns the conversation keys with queued or executing units.
func (s *Serializer) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.queues))
	for key, q := range s.queues {
		if q.draining || len(q.units) > 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

// EvictIdle removes queues that are fully drained, bounding memory under
// high conversation churn.
func (s *Serializer) EvictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, q := range s.queues {
		if !q.draining && len(q.units) == 0 {
			delete(s.queues, key)
			removed++
		}
	}
	return removed
}

// Stop refuses further submissions, then waits for in-flight units. The stop
// flag and every wg.Add share s.mu, so a submission either lands before the
// flag is set and is waited for, or is refused.
func (s *Serializer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return s.Wait(ctx)
}

// Wait blocks until all in-flight units finish or the context expires.
func (s *Serializer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serializer) drain(key string, q *keyQueue) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(q.units) == 0 {
			q.draining = false
			s.mu.Unlock()
			return
		}
		unit := q.units[0]
		q.units = q.units[1:]
		s.mu.Unlock()

		s.execute(key, unit)
		s.metrics.QueuedUnits.Dec()
	}
}

func (s *Serializer) execute(key string, unit queuedUnit) {
	ctx, cancel := context.WithTimeout(context.Background(), unit.budget)
	defer cancel()

	start := time.Now()
	err := unit.work(ctx)
	duration := time.Since(start)

	s.metrics.PipelineDuration.Observe(duration.Seconds())

	fields := logrus.Fields{
		"conversation_key": key,
		"unit_id":          unit.id,
		"duration":         duration,
	}

	switch {
	case err == nil:
		s.metrics.UnitsProcessed.WithLabelValues("ok").Inc()
		s.logger.WithFields(fields).Info("Unit processed")
	case ctx.Err() != nil:
		s.metrics.UnitsProcessed.WithLabelValues("timeout").Inc()
		s.logger.WithFields(fields).WithError(err).Error("Unit timed out")
	default:
		s.metrics.UnitsProcessed.WithLabelValues("error").Inc()
		s.logger.WithFields(fields).WithError(err).Error("Unit failed")
	}
}
