// Package ratio predicts target like and comment counts for a given total
// view count. The model fits log-log polynomial regressions over historical
// samples of the campaign's genre and tier, then clamps the prediction to
// hard ratio windows so a bad fit can never drive runaway orders.
package ratio

import (
	"context"
	"math"

	"github.com/soundlift/promo-monitor/internal/dataset"
	"github.com/soundlift/promo-monitor/internal/pkg/logger"
)

// Ratio clamp windows, as fractions of total views. These are deliberate
// hard bounds, not tunables: every prediction lands inside them no matter
// what the regression says.
const (
	likeFloorRatio    = 0.001
	likeCeilRatio     = 0.15
	commentFloorRatio = 0.0001
	commentCeilRatio  = 0.05

	// Conservative fallback used when the data cannot support a fit.
	fallbackCommentRatio = 0.001
	fallbackLikeRatio    = 0.02

	// Absolute floors applied when a prediction comes back degenerate.
	minLikesFloor    = 10
	minCommentsFloor = 1

	minUsableRows = 3
	acceptableR2  = 0.70
	degree2Gain   = 0.10
)

// Prediction holds the bounded engagement targets for one evaluation.
// Both values are finite and non-negative.
type Prediction struct {
	TargetComments float64
	TargetLikes    float64
}

// Model evaluates genre-conditioned engagement targets. It is stateless
// between calls; determinism comes from the dataset source's snapshot
// semantics.
type Model struct {
	source dataset.Source
}

// New creates a ratio model over the given historical dataset.
func New(source dataset.Source) *Model {
	return &Model{source: source}
}

// Predict returns target comment and like counts for a video currently at
// currentViews with additionalViews of expected growth. Recoverable
// conditions (missing data, failed fits, degenerate arithmetic) return the
// conservative fallback instead of an error; the runner never needs to
// handle a prediction failure.
func (m *Model) Predict(ctx context.Context, genre, tier string, currentViews, additionalViews int64) Prediction {
	total := float64(currentViews + additionalViews)
	fb := Fallback(total)
	if total <= 0 {
		return fb
	}

	samples, err := m.source.TierSamples(ctx, tier)
	if err != nil {
		logger.Warn("ratio: dataset unavailable, using fallback", "tier", tier, "error", err)
		return fb
	}

	rows := usableRows(samples, genre)
	if len(rows) < minUsableRows {
		// Widen to the whole tier before giving up on a fit.
		rows = usableRows(samples, "")
	}
	if len(rows) < minUsableRows {
		logger.Debug("ratio: insufficient samples, using fallback", "tier", tier, "genre", genre, "rows", len(rows))
		return fb
	}

	// Each dependent is filtered for positivity on its own: a row with a
	// hidden like counter still feeds the comment fit, and vice versa.
	at := math.Log(total)
	rawLikes, ok := fitSeries(rows, at, func(s dataset.Sample) float64 { return s.Likes })
	if !ok {
		return fb
	}
	rawComments, ok := fitSeries(rows, at, func(s dataset.Sample) float64 { return s.Comments })
	if !ok {
		return fb
	}

	return Prediction{
		TargetComments: clampTarget(rawComments, total, commentFloorRatio, commentCeilRatio, minCommentsFloor),
		TargetLikes:    clampTarget(rawLikes, total, likeFloorRatio, likeCeilRatio, minLikesFloor),
	}
}

// Fallback returns the conservative prediction used when no fit is
// possible: total·0.001 comments and total·0.02 likes.
func Fallback(total float64) Prediction {
	if total < 0 {
		total = 0
	}
	return Prediction{
		TargetComments: total * fallbackCommentRatio,
		TargetLikes:    total * fallbackLikeRatio,
	}
}

// usableRows filters samples to those with positive view counts,
// restricted to an exact genre match when genre is non-empty. Positivity
// of the dependent variable is checked per fit in fitSeries.
func usableRows(samples []dataset.Sample, genre string) []dataset.Sample {
	var rows []dataset.Sample
	for _, s := range samples {
		if s.Views <= 0 {
			continue
		}
		if genre != "" && s.Genre != genre {
			continue
		}
		rows = append(rows, s)
	}
	return rows
}

// fitSeries builds the log-log series for one dependent variable, keeping
// only rows where that dependent is positive, and evaluates the fit at the
// target point. Rows with a zero like count still feed the comment fit and
// vice versa.
func fitSeries(rows []dataset.Sample, at float64, dep func(dataset.Sample) float64) (float64, bool) {
	var xs, ys []float64
	for _, r := range rows {
		v := dep(r)
		if v <= 0 {
			continue
		}
		xs = append(xs, math.Log(r.Views))
		ys = append(ys, math.Log(v))
	}
	if len(xs) < minUsableRows {
		return 0, false
	}
	return fitEval(xs, ys, at)
}

// fitEval fits log(dependent) against log(views) and evaluates the fit at
// the target point, returning the exponentiated prediction. A degree-1 fit
// is tried first; a degree-2 fit is adopted only when the linear R² is
// below acceptableR2 and the quadratic improves it by more than
// degree2Gain. Ties keep the lower degree.
func fitEval(xs, ys []float64, at float64) (float64, bool) {
	linear, err := polyfit(xs, ys, 1)
	if err != nil {
		return 0, false
	}
	best := linear

	if r1 := rsquared(linear, xs, ys); r1 < acceptableR2 {
		quad, err := polyfit(xs, ys, 2)
		if err != nil {
			return 0, false
		}
		if rsquared(quad, xs, ys) > r1+degree2Gain {
			best = quad
		}
	}

	return math.Exp(polyval(best, at)), true
}

// clampTarget bounds a raw prediction to [total·floorRatio, total·ceilRatio].
// Degenerate predictions collapse to the window floor, which itself never
// drops below the absolute minimum.
func clampTarget(raw, total, floorRatio, ceilRatio, minAbs float64) float64 {
	lo := total * floorRatio
	hi := total * ceilRatio
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return math.Max(lo, minAbs)
	}
	if raw < lo {
		return lo
	}
	if raw > hi {
		return hi
	}
	return raw
}
