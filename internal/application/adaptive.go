package application

import (
	"time"
)

// ActivityTier classifies an open aggregate by how long ago it was created.
// Younger aggregates are reconciled more often.
type ActivityTier int

const (
	// TierHot indicates an aggregate created within the last hour.
	TierHot ActivityTier = iota
	// TierActive indicates an aggregate created within the last day.
	TierActive
	// TierWarm indicates an aggregate created within the last 7 days.
	TierWarm
	// TierStale indicates an aggregate older than 7 days. It is no longer
	// reconciled automatically.
	TierStale
)

// Reconcile intervals per activity tier.
const (
	intervalHot    = 2 * time.Minute
	intervalActive = 15 * time.Minute
	intervalWarm   = time.Hour
)

// String returns a human-readable name for the activity tier.
func (t ActivityTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierActive:
		return "active"
	case TierWarm:
		return "warm"
	case TierStale:
		return "stale"
	default:
		return "unknown"
	}
}

// tierInterval returns the reconcile interval for the given tier. Zero means
// the aggregate is not reconciled.
func tierInterval(tier ActivityTier) time.Duration {
	switch tier {
	case TierHot:
		return intervalHot
	case TierActive:
		return intervalActive
	case TierWarm:
		return intervalWarm
	case TierStale:
		return 0
	default:
		return intervalActive
	}
}

// staleAge is the age after which an aggregate is TierStale.
const staleAge = 7 * 24 * time.Hour

// classifyActivity determines the tier from the time elapsed since created.
// A zero-value time is treated as TierStale.
func classifyActivity(created, now time.Time) ActivityTier {
	if created.IsZero() {
		return TierStale
	}

	elapsed := now.Sub(created)

	switch {
	case elapsed < time.Hour:
		return TierHot
	case elapsed < 24*time.Hour:
		return TierActive
	case elapsed < staleAge:
		return TierWarm
	default:
		return TierStale
	}
}

// checkSchedule tracks per-aggregate reconcile state.
type checkSchedule struct {
	tier       ActivityTier
	nextSyncAt time.Time
	lastSynced time.Time
}

// ScheduleInfo is an exported view of an aggregate's reconcile schedule.
type ScheduleInfo struct {
	Tier       ActivityTier
	NextSyncAt time.Time
	LastSynced time.Time
}
