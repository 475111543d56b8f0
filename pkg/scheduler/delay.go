package scheduler

import (
	"time"

	"whatsapp-context-scheduler/pkg/models"
)

// DelayEngine decides whether a just-coalesced unit should be held back so
// that it does not interleave with a very recent system-originated message.
// Decide is a pure function of the tracker's state and now.
type DelayEngine struct {
	tracker        *ActivityTracker
	activityWindow time.Duration
	contextDelay   time.Duration
}

func NewDelayEngine(tracker *ActivityTracker, activityWindow, contextDelay time.Duration) *DelayEngine {
	return &DelayEngine{
		tracker:        tracker,
		activityWindow: activityWindow,
		contextDelay:   contextDelay,
	}
}

// Decide applies the delay rule: a delay applies iff a system message exists
// for key with elapsed < activity window. The window excludes its right edge,
// so elapsed exactly equal to the window resolves to no delay.
func (e *DelayEngine) Decide(key string, now time.Time) models.DelayDecision {
	elapsed, category, ok := e.tracker.TimeSince(key, now)
	if !ok || elapsed >= e.activityWindow {
		return models.DelayDecision{}
	}

	return models.DelayDecision{
		Apply:  true,
		Delay:  e.contextDelay,
		Reason: category,
	}
}
