// Package runner implements the per-campaign control loop. Each runner
// owns one campaign record and drives it toward the ratio model's targets:
// sample live counters, compute the gap, submit bounded order batches, and
// sleep. The loop is strictly sequential within a campaign; concurrency
// exists only across campaigns.
package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/soundlift/promo-monitor/internal/domain"
	"github.com/soundlift/promo-monitor/internal/pkg/logger"
	"github.com/soundlift/promo-monitor/internal/ratio"
	"github.com/soundlift/promo-monitor/internal/stats"
)

// StatsSource provides current video counters.
type StatsSource interface {
	VideoStats(ctx context.Context, videoID string) (*stats.VideoStats, error)
}

// Predictor evaluates engagement targets for a view count.
type Predictor interface {
	Predict(ctx context.Context, genre, tier string, currentViews, additionalViews int64) ratio.Prediction
}

// OrderProvider submits engagement orders.
type OrderProvider interface {
	OrderLikes(ctx context.Context, serviceID int, link string, quantity int) (int64, error)
	OrderComments(ctx context.Context, serviceID int, link string, comments []string) (int64, error)
}

// CommentInventory dispenses unused comments for one campaign's sheet.
type CommentInventory interface {
	Open(ctx context.Context) error
	Size() int
	Take(n int) []string
	CommitUsed(ctx context.Context) error
}

// CommitFunc persists the campaign record after the runner mutates it.
// A nil CommitFunc disables persistence (tests).
type CommitFunc func(ctx context.Context, c *domain.Campaign) error

// Config wires one runner.
type Config struct {
	Record    *domain.Campaign
	Stats     StatsSource
	Predictor Predictor
	Provider  OrderProvider
	Inventory CommentInventory // nil in likes-only mode
	Policy    Policy
	Commit    CommitFunc
	Rand      *rand.Rand // optional deterministic source
}

// Runner drives a single campaign. Create with New, then call Run or
// RunLikesOnly exactly once; cancel the context to stop.
type Runner struct {
	cfg Config
	rng *rand.Rand

	mu     sync.Mutex
	record *domain.Campaign

	// totalTime accumulates slept time for the long-interval branch. Only
	// the runner goroutine touches it.
	totalTime time.Duration
}

// New creates a runner over the given configuration.
func New(cfg Config) *Runner {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Runner{cfg: cfg, rng: rng, record: cfg.Record}
}

// Snapshot returns a coherent view of the campaign's current counters.
func (r *Runner) Snapshot() domain.StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Snapshot()
}

// MarkCompleted flips the record to Completed. The loop observes the
// status at its next iteration and exits.
func (r *Runner) MarkCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.Status = domain.CampaignCompleted
	r.record.UpdatedAt = time.Now().UTC()
}

// Run executes the full control loop (comments and likes) until the
// campaign completes or the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	return r.loop(ctx, false)
}

// RunLikesOnly executes the control loop with comment ordering suppressed.
// It additionally terminates as soon as the like target is met.
func (r *Runner) RunLikesOnly(ctx context.Context) error {
	return r.loop(ctx, true)
}

func (r *Runner) loop(ctx context.Context, likesOnly bool) error {
	campaignID := r.record.ID

	if !likesOnly {
		if r.cfg.Inventory == nil {
			logger.Warn("runner: no comment inventory, completing", "campaign_id", campaignID)
			r.complete(ctx)
			return nil
		}
		if err := r.cfg.Inventory.Open(ctx); err != nil {
			logger.Error("runner: opening comment inventory failed", "campaign_id", campaignID, "error", err)
			r.complete(ctx)
			return err
		}
	}

	first := true
	var lastViews int64

	for {
		if ctx.Err() != nil {
			r.complete(ctx)
			return nil
		}

		current, err := r.cfg.Stats.VideoStats(ctx, r.record.VideoID)
		if err != nil {
			// Counters keep their last known values; try again next tick.
			logger.Warn("runner: stats refresh failed, skipping iteration", "campaign_id", campaignID, "error", err)
			if !r.sleepTick(ctx) {
				r.complete(ctx)
				return nil
			}
			continue
		}
		r.applyStats(current)

		if r.terminated() {
			return nil
		}
		if !likesOnly && r.cfg.Inventory.Size() == 0 {
			logger.Info("runner: comment inventory exhausted, completing", "campaign_id", campaignID)
			r.complete(ctx)
			return nil
		}

		r.mu.Lock()
		views := r.record.CurrentViews()
		genre, tier := r.record.Genre, r.record.SheetTier
		additional := r.record.DesiredAdditionalViews
		r.mu.Unlock()

		pred := r.cfg.Predictor.Predict(ctx, genre, tier, views, additional)
		r.mu.Lock()
		r.record.DesiredComments = int64(pred.TargetComments)
		r.record.DesiredLikes = int64(pred.TargetLikes)
		r.mu.Unlock()

		if first {
			lastViews = views
			first = false
		}
		deltaViews := views - lastViews

		if !likesOnly {
			r.commentRule(ctx, deltaViews)
		}
		r.likeRule(ctx, deltaViews)

		// Second refresh so targets are compared against post-order
		// observations. A failure here just carries the earlier values.
		if refreshed, err := r.cfg.Stats.VideoStats(ctx, r.record.VideoID); err == nil {
			r.applyStats(refreshed)
		}

		r.mu.Lock()
		lastViews = r.record.CurrentViews()
		likes := r.record.CurrentLikes()
		comments := r.record.CurrentComments()
		desiredLikes := r.record.DesiredLikes
		desiredComments := r.record.DesiredComments
		r.mu.Unlock()

		r.persist(ctx)

		if likesOnly && likes >= desiredLikes {
			logger.Info("runner: like target reached, completing", "campaign_id", campaignID, "likes", likes, "desired_likes", desiredLikes)
			r.complete(ctx)
			return nil
		}
		if !likesOnly && likes >= desiredLikes && comments >= desiredComments {
			logger.Info("runner: both targets reached, completing", "campaign_id", campaignID)
			r.complete(ctx)
			return nil
		}

		if !r.sleepTick(ctx) {
			r.complete(ctx)
			return nil
		}
	}
}

// commentRule evaluates the comment-order branches for one iteration and
// submits at most one batch.
func (r *Runner) commentRule(ctx context.Context, deltaViews int64) {
	r.mu.Lock()
	comments := r.record.CurrentComments()
	desired := r.record.DesiredComments
	ordered := r.record.OrderedComments
	r.mu.Unlock()

	if comments >= desired {
		return
	}

	ceiling := r.cfg.Policy.BatchCeiling
	switch {
	case deltaViews >= r.minDelta():
		needed := desired - comments - ordered
		if needed < 0 {
			needed = 0
		}
		batch := int(min64(needed, int64(ceiling)))
		if batch < ceiling {
			return
		}
		r.submitComments(ctx, batch, false)

	case r.totalTime > r.cfg.Policy.LongIntervalThreshold:
		r.totalTime = 0
		r.submitComments(ctx, ceiling, true)
	}
}

// submitComments takes batch texts from the inventory, submits them in
// chunks of exactly the batch ceiling, and commits consumption back to the
// sheet. Residual texts short of a full chunk are discarded; they have
// already left the inventory. On the long-interval path the runner sleeps
// a random long interval after each chunk, observing cancellation.
func (r *Runner) submitComments(ctx context.Context, batch int, longInterval bool) {
	ceiling := r.cfg.Policy.BatchCeiling
	texts := r.cfg.Inventory.Take(batch)

	for len(texts) >= ceiling {
		if ctx.Err() != nil {
			break
		}
		chunk := texts[:ceiling]
		texts = texts[ceiling:]

		r.mu.Lock()
		serviceID := r.record.CommentServiceID
		link := r.record.VideoLink
		campaignID := r.record.ID
		r.mu.Unlock()

		orderID, err := r.cfg.Provider.OrderComments(ctx, serviceID, link, chunk)
		if err != nil {
			// Batch counts as not submitted; no retry this iteration.
			logger.Warn("runner: comment order failed", "campaign_id", campaignID, "error", err)
		} else {
			r.mu.Lock()
			r.record.OrderedComments += int64(len(chunk))
			r.mu.Unlock()
			logger.Info("runner: comment order submitted", "campaign_id", campaignID, "order_id", orderID, "quantity", len(chunk))
		}

		if longInterval {
			d := r.randDuration(r.cfg.Policy.LongSleepMin, r.cfg.Policy.LongSleepMax)
			if !r.sleep(ctx, d) {
				break
			}
			r.totalTime += d
		}
	}
	if len(texts) > 0 {
		logger.Debug("runner: discarding residual comment chunk", "count", len(texts))
	}

	if err := r.cfg.Inventory.CommitUsed(ctx); err != nil {
		// Non-fatal: marking is idempotent, the next commit re-marks.
		logger.Warn("runner: committing used comments failed", "error", err)
	}
}

// likeRule evaluates the like-order branches for one iteration and submits
// at most one order.
func (r *Runner) likeRule(ctx context.Context, deltaViews int64) {
	r.mu.Lock()
	likes := r.record.CurrentLikes()
	desired := r.record.DesiredLikes
	ordered := r.record.OrderedLikes
	r.mu.Unlock()

	if likes >= desired {
		return
	}

	ceiling := r.cfg.Policy.BatchCeiling
	switch {
	case deltaViews >= r.minDelta():
		needed := desired - likes - ordered
		if needed < 0 {
			needed = 0
		}
		batch := int(min64(needed, int64(ceiling)))
		if batch < ceiling {
			return
		}
		r.submitLikes(ctx, batch)

	case r.totalTime > r.cfg.Policy.LongIntervalThreshold:
		r.totalTime = 0
		qty := r.randInt(r.cfg.Policy.LikeLongMin, r.cfg.Policy.LikeLongMax)
		r.submitLikes(ctx, qty)
	}
}

func (r *Runner) submitLikes(ctx context.Context, quantity int) {
	r.mu.Lock()
	serviceID := r.record.LikeServiceID
	link := r.record.VideoLink
	campaignID := r.record.ID
	r.mu.Unlock()

	orderID, err := r.cfg.Provider.OrderLikes(ctx, serviceID, link, quantity)
	if err != nil {
		logger.Warn("runner: like order failed", "campaign_id", campaignID, "error", err)
		return
	}
	r.mu.Lock()
	r.record.OrderedLikes += int64(quantity)
	r.mu.Unlock()
	logger.Info("runner: like order submitted", "campaign_id", campaignID, "order_id", orderID, "quantity", quantity)
}

// applyStats writes one coherent observation into the record.
func (r *Runner) applyStats(s *stats.VideoStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	views, likes, comments := s.Views, s.Likes, s.Comments
	r.record.Views = &views
	r.record.Likes = &likes
	r.record.Comments = &comments
	if r.record.VideoTitle == "" {
		r.record.VideoTitle = s.Title
	}
	r.record.UpdatedAt = time.Now().UTC()
}

// terminated reports whether the record has left the Running state.
func (r *Runner) terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Status != domain.CampaignRunning
}

// complete transitions the record to Completed (idempotent) and persists.
func (r *Runner) complete(ctx context.Context) {
	r.mu.Lock()
	r.record.Status = domain.CampaignCompleted
	r.record.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()
	r.persist(ctx)
}

func (r *Runner) persist(ctx context.Context) {
	if r.cfg.Commit == nil {
		return
	}
	r.mu.Lock()
	snapshot := *r.record
	r.mu.Unlock()
	// Persistence runs outside the lock; use a background context so a
	// cancelled runner can still write its final state.
	if err := r.cfg.Commit(context.WithoutCancel(ctx), &snapshot); err != nil {
		logger.Warn("runner: persisting campaign failed", "campaign_id", snapshot.ID, "error", err)
	}
}

// minDelta returns the view-growth gate, preferring the per-campaign value.
func (r *Runner) minDelta() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record.MinEngagementDeltaViews > 0 {
		return r.record.MinEngagementDeltaViews
	}
	return r.cfg.Policy.MinEngagementDeltaViews
}

// sleepTick sleeps the between-iteration interval and accumulates it into
// the long-interval clock. Returns false when cancelled mid-sleep.
func (r *Runner) sleepTick(ctx context.Context) bool {
	d := r.cfg.Policy.Tick
	r.mu.Lock()
	if r.record.WaitTimeSeconds > 0 {
		d = time.Duration(r.record.WaitTimeSeconds) * time.Second
	}
	r.mu.Unlock()

	if !r.sleep(ctx, d) {
		return false
	}
	r.totalTime += d
	return true
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Runner) randInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.rng.Intn(hi-lo+1)
}

func (r *Runner) randDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.rng.Int63n(int64(hi-lo)+1))
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
