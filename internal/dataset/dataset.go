// Package dataset loads historical engagement samples used to fit the
// per-genre ratio models. Two sources are supported: per-tier CSV exports
// and the warehouse table they were exported from. Both memoize per tier,
// so a tier's sample set is a stable snapshot for the process lifetime and
// predictions stay deterministic.
package dataset

import (
	"context"
	"fmt"

	"github.com/soundlift/promo-monitor/internal/config"
)

// Sample is one historical observation of a video's engagement counts.
type Sample struct {
	Views            float64
	Likes            float64
	Comments         float64
	Genre            string
	LikeViewRatio    float64
	CommentViewRatio float64
}

// Usable reports whether the sample can feed a log-log regression: every
// count strictly positive (logs must be finite).
func (s Sample) Usable() bool {
	return s.Views > 0 && s.Likes > 0 && s.Comments > 0
}

// Source provides historical samples per tier.
type Source interface {
	// TierSamples returns all samples for the given tier. The returned
	// slice must not be mutated by callers.
	TierSamples(ctx context.Context, tier string) ([]Sample, error)
}

// New builds the source selected by the dataset configuration.
func New(cfg config.DatasetConfig) (Source, error) {
	switch cfg.Source {
	case "csv", "":
		return NewCSVSource(cfg.Dir, cfg.Tiers), nil
	case "snowflake":
		return NewSnowflakeSource(cfg.Snowflake)
	default:
		return nil, fmt.Errorf("unknown dataset source %q", cfg.Source)
	}
}
