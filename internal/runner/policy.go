package runner

import (
	"time"

	"github.com/soundlift/promo-monitor/internal/config"
)

// Policy is the ordering cadence a runner follows. Campaign records can
// override the tick and the view-delta gate per campaign; everything else
// is process-wide.
type Policy struct {
	// Tick is the between-iteration sleep when the campaign record does
	// not set its own wait time.
	Tick time.Duration

	// MinEngagementDeltaViews gates the primary order branches: views must
	// have grown by at least this much since the last iteration.
	MinEngagementDeltaViews int64

	// LongIntervalThreshold is how much accumulated wall-clock time opens
	// the long-interval branch when view growth stays under the gate.
	LongIntervalThreshold time.Duration

	// LongSleepMin/Max bound the random sleep taken after each comment
	// chunk submitted on the long-interval path.
	LongSleepMin time.Duration
	LongSleepMax time.Duration

	// BatchCeiling is the per-order size for both likes and comments.
	BatchCeiling int

	// LikeLongMin/Max bound the random like quantity ordered on the
	// long-interval path.
	LikeLongMin int
	LikeLongMax int
}

// PolicyFromConfig builds a policy from the cadence configuration.
// config.Load has already applied defaults to zero fields.
func PolicyFromConfig(c config.CadenceConfig) Policy {
	return Policy{
		Tick:                    time.Duration(c.TickSeconds) * time.Second,
		MinEngagementDeltaViews: c.MinEngagementDeltaViews,
		LongIntervalThreshold:   time.Duration(c.LongIntervalThresholdSeconds) * time.Second,
		LongSleepMin:            time.Duration(c.LongIntervalSleepMinSeconds) * time.Second,
		LongSleepMax:            time.Duration(c.LongIntervalSleepMaxSeconds) * time.Second,
		BatchCeiling:            c.PerBatchCeiling,
		LikeLongMin:             c.LikeLongIntervalMin,
		LikeLongMax:             c.LikeLongIntervalMax,
	}
}
