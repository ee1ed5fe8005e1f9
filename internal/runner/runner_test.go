package runner

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundlift/promo-monitor/internal/domain"
	"github.com/soundlift/promo-monitor/internal/ratio"
	"github.com/soundlift/promo-monitor/internal/stats"
)

// stubStats serves a scripted observation per call. The loop refreshes
// twice per iteration, so calls 1-2 belong to iteration one, 3-4 to
// iteration two, and so on.
type stubStats struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*stats.VideoStats, error)
}

func (s *stubStats) VideoStats(ctx context.Context, videoID string) (*stats.VideoStats, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call)
}

type stubPredictor struct {
	pred ratio.Prediction
}

func (p stubPredictor) Predict(ctx context.Context, genre, tier string, currentViews, additionalViews int64) ratio.Prediction {
	return p.pred
}

type stubProvider struct {
	mu            sync.Mutex
	err           error
	likeOrders    []int
	commentOrders [][]string
}

func (p *stubProvider) OrderLikes(ctx context.Context, serviceID int, link string, quantity int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.likeOrders = append(p.likeOrders, quantity)
	if p.err != nil {
		return 0, p.err
	}
	return int64(1000 + len(p.likeOrders)), nil
}

func (p *stubProvider) OrderComments(ctx context.Context, serviceID int, link string, comments []string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commentOrders = append(p.commentOrders, comments)
	if p.err != nil {
		return 0, p.err
	}
	return int64(2000 + len(p.commentOrders)), nil
}

func (p *stubProvider) commentOrderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commentOrders)
}

func (p *stubProvider) likeOrderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.likeOrders)
}

type stubInventory struct {
	mu      sync.Mutex
	pending []string
	openErr error
	commits int
}

func (i *stubInventory) Open(ctx context.Context) error { return i.openErr }

func (i *stubInventory) Size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

func (i *stubInventory) Take(n int) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if n > len(i.pending) {
		n = len(i.pending)
	}
	out := i.pending[:n]
	i.pending = i.pending[n:]
	return out
}

func (i *stubInventory) CommitUsed(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.commits++
	return nil
}

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:                      "cmp-1",
		VideoID:                 "vid-1",
		VideoLink:               "https://youtu.be/vid-1",
		Genre:                   "lofi",
		SheetTier:               "tier1",
		MinEngagementDeltaViews: 1000,
		CommentServiceID:        771,
		LikeServiceID:           402,
		Status:                  domain.CampaignRunning,
	}
}

// fastPolicy keeps ticks in the millisecond range so tests run quickly.
// The long-interval threshold defaults high enough to stay out of the way.
func fastPolicy() Policy {
	return Policy{
		Tick:                    time.Millisecond,
		MinEngagementDeltaViews: 1000,
		LongIntervalThreshold:   time.Hour,
		LongSleepMin:            time.Millisecond,
		LongSleepMax:            2 * time.Millisecond,
		BatchCeiling:            10,
		LikeLongMin:             35,
		LikeLongMax:             65,
	}
}

func manyComments(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "comment " + string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	return out
}

// startRunner launches the loop and returns a function that cancels it and
// waits for the result.
func startRunner(t *testing.T, r *Runner, likesOnly bool) (cancelAndWait func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		if likesOnly {
			done <- r.RunLikesOnly(ctx)
		} else {
			done <- r.Run(ctx)
		}
	}()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("runner did not stop after cancellation")
			return nil
		}
	}
}

func TestCommentBatchOnSufficientViewGrowth(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		if call <= 2 {
			return &stats.VideoStats{Views: 95_000, Likes: 100, Comments: 300, Title: "t"}, nil
		}
		return &stats.VideoStats{Views: 100_000, Likes: 100, Comments: 300, Title: "t"}, nil
	}}
	prov := &stubProvider{}
	inv := &stubInventory{pending: manyComments(40)}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 50}},
		Provider:  prov,
		Inventory: inv,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	require.Eventually(t, func() bool {
		return prov.commentOrderCount() >= 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, wait())

	require.Len(t, prov.commentOrders, 1)
	assert.Len(t, prov.commentOrders[0], 10)
	assert.Equal(t, int64(10), rec.OrderedComments)
	assert.GreaterOrEqual(t, inv.commits, 1)
}

func TestNoOrderOnInsufficientViewGrowth(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		if call <= 2 {
			return &stats.VideoStats{Views: 99_500, Likes: 100, Comments: 300}, nil
		}
		return &stats.VideoStats{Views: 100_000, Likes: 100, Comments: 300}, nil
	}}
	prov := &stubProvider{}
	inv := &stubInventory{pending: manyComments(40)}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 50}},
		Provider:  prov,
		Inventory: inv,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, wait())

	assert.Zero(t, prov.commentOrderCount())
	assert.Zero(t, rec.OrderedComments)
}

func TestNoOrderWhenNeededBelowBatchCeiling(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		if call <= 2 {
			return &stats.VideoStats{Views: 95_000, Likes: 100, Comments: 300}, nil
		}
		return &stats.VideoStats{Views: 100_000, Likes: 100, Comments: 300}, nil
	}}
	prov := &stubProvider{}
	inv := &stubInventory{pending: manyComments(40)}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 305, TargetLikes: 50}}, // needed = 5 < 10
		Provider:  prov,
		Inventory: inv,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, wait())

	assert.Zero(t, prov.commentOrderCount())
}

func TestNoLikeOrderWhenAboveTarget(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		if call <= 2 {
			return &stats.VideoStats{Views: 95_000, Likes: 5_000, Comments: 300}, nil
		}
		return &stats.VideoStats{Views: 100_000, Likes: 5_000, Comments: 300}, nil
	}}
	prov := &stubProvider{}
	inv := &stubInventory{pending: manyComments(40)}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 4_500}},
		Provider:  prov,
		Inventory: inv,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	require.Eventually(t, func() bool {
		return prov.commentOrderCount() >= 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, wait())

	assert.Zero(t, prov.likeOrderCount(), "likes already above target must not be ordered")
}

func TestLikeBatchOnViewGrowth(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		if call <= 2 {
			return &stats.VideoStats{Views: 95_000, Likes: 100, Comments: 300}, nil
		}
		return &stats.VideoStats{Views: 100_000, Likes: 100, Comments: 300}, nil
	}}
	prov := &stubProvider{}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 0, TargetLikes: 200}},
		Provider:  prov,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, true)

	require.Eventually(t, func() bool {
		return prov.likeOrderCount() >= 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, wait())

	require.NotEmpty(t, prov.likeOrders)
	assert.Equal(t, 10, prov.likeOrders[0])
	assert.GreaterOrEqual(t, rec.OrderedLikes, int64(10))
}

func TestLongIntervalCommentOrder(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return &stats.VideoStats{Views: 10_000, Likes: 1_000, Comments: 300}, nil
	}}
	prov := &stubProvider{}
	inv := &stubInventory{pending: manyComments(40)}

	policy := fastPolicy()
	policy.LongIntervalThreshold = 5 * time.Millisecond

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 10}},
		Provider:  prov,
		Inventory: inv,
		Policy:    policy,
		Rand:      rand.New(rand.NewSource(1)),
	})
	wait := startRunner(t, r, false)

	// No view growth at all: only the long-interval branch can fire.
	require.Eventually(t, func() bool {
		return prov.commentOrderCount() >= 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, wait())

	require.NotEmpty(t, prov.commentOrders)
	assert.Len(t, prov.commentOrders[0], 10)
	assert.GreaterOrEqual(t, rec.OrderedComments, int64(10))
	assert.GreaterOrEqual(t, inv.commits, 1)
}

func TestLongIntervalLikeOrderQuantity(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return &stats.VideoStats{Views: 10_000, Likes: 100, Comments: 300}, nil
	}}
	prov := &stubProvider{}

	policy := fastPolicy()
	policy.LongIntervalThreshold = 5 * time.Millisecond

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 0, TargetLikes: 5_000}},
		Provider:  prov,
		Policy:    policy,
		Rand:      rand.New(rand.NewSource(7)),
	})
	wait := startRunner(t, r, true)

	require.Eventually(t, func() bool {
		return prov.likeOrderCount() >= 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, wait())

	require.NotEmpty(t, prov.likeOrders)
	var total int64
	for _, qty := range prov.likeOrders {
		assert.GreaterOrEqual(t, qty, 35)
		assert.LessOrEqual(t, qty, 65)
		total += int64(qty)
	}
	assert.Equal(t, total, rec.OrderedLikes)
}

func TestProviderFailureDoesNotIncrementOrdered(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		if call <= 2 {
			return &stats.VideoStats{Views: 95_000, Likes: 100, Comments: 300}, nil
		}
		return &stats.VideoStats{Views: 100_000, Likes: 100, Comments: 300}, nil
	}}
	prov := &stubProvider{err: errors.New("not enough funds")}
	inv := &stubInventory{pending: manyComments(40)}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 50}},
		Provider:  prov,
		Inventory: inv,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	require.Eventually(t, func() bool {
		return prov.commentOrderCount() >= 1
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, wait())

	assert.Zero(t, rec.OrderedComments, "failed batches must not count as ordered")
}

func TestBothTargetsMetCompletes(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return &stats.VideoStats{Views: 100_000, Likes: 6_000, Comments: 400}, nil
	}}
	prov := &stubProvider{}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 5_000}},
		Provider:  prov,
		Inventory: &stubInventory{pending: manyComments(40)},
		Policy:    fastPolicy(),
	})

	// Both counters already past target: the loop must exit on its own
	// without ordering anything.
	err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, rec.Status)
	assert.Zero(t, prov.commentOrderCount())
	assert.Zero(t, prov.likeOrderCount())
}

func TestInventoryExhaustedCompletes(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return &stats.VideoStats{Views: 10_000, Likes: 100, Comments: 300}, nil
	}}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 5_000}},
		Provider:  &stubProvider{},
		Inventory: &stubInventory{},
		Policy:    fastPolicy(),
	})

	err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, rec.Status)
}

func TestInventoryOpenFailureCompletes(t *testing.T) {
	rec := testCampaign()
	r := New(Config{
		Record:    rec,
		Stats:     &stubStats{fn: func(int) (*stats.VideoStats, error) { return nil, errors.New("unused") }},
		Predictor: stubPredictor{},
		Provider:  &stubProvider{},
		Inventory: &stubInventory{openErr: errors.New("sheet unavailable")},
		Policy:    fastPolicy(),
	})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.CampaignCompleted, rec.Status)
}

func TestLikesOnlyCompletesAtTarget(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return &stats.VideoStats{Views: 10_000, Likes: 5_000, Comments: 300}, nil
	}}
	prov := &stubProvider{}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 4_500}},
		Provider:  prov,
		Policy:    fastPolicy(),
	})

	err := r.RunLikesOnly(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, rec.Status)
	assert.Zero(t, prov.likeOrderCount())
}

func TestStatsFailureSkipsIteration(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return nil, errors.New("quota exceeded")
	}}
	prov := &stubProvider{}
	inv := &stubInventory{pending: manyComments(40)}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 5_000}},
		Provider:  prov,
		Inventory: inv,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, wait())

	assert.Zero(t, prov.commentOrderCount())
	assert.Zero(t, prov.likeOrderCount())
	assert.Equal(t, domain.CampaignCompleted, rec.Status)
}

func TestCancellationCompletes(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return &stats.VideoStats{Views: 10_000, Likes: 100, Comments: 300}, nil
	}}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 5_000}},
		Provider:  &stubProvider{},
		Inventory: &stubInventory{pending: manyComments(40)},
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	require.NoError(t, wait())
	assert.Equal(t, domain.CampaignCompleted, rec.Status)
}

func TestSnapshotReflectsObservations(t *testing.T) {
	rec := testCampaign()
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		return &stats.VideoStats{Views: 10_000, Likes: 400, Comments: 120, Title: "Night Drive"}, nil
	}}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 350, TargetLikes: 5_000}},
		Provider:  &stubProvider{},
		Inventory: &stubInventory{pending: manyComments(40)},
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	require.Eventually(t, func() bool {
		return r.Snapshot().Views == 10_000
	}, 5*time.Second, time.Millisecond)
	snap := r.Snapshot()
	require.NoError(t, wait())

	assert.Equal(t, "cmp-1", snap.CampaignID)
	assert.Equal(t, int64(400), snap.Likes)
	assert.Equal(t, int64(120), snap.Comments)
	assert.Equal(t, "Night Drive", snap.VideoTitle)
	assert.Equal(t, domain.CampaignRunning, snap.Status)
}

func TestOrderedCountersNonDecreasing(t *testing.T) {
	rec := testCampaign()
	views := int64(95_000)
	st := &stubStats{fn: func(call int) (*stats.VideoStats, error) {
		// Views grow every refresh so the primary branch keeps firing.
		views += 1_500
		return &stats.VideoStats{Views: views, Likes: 100, Comments: 300}, nil
	}}
	prov := &stubProvider{}
	inv := &stubInventory{pending: manyComments(200)}

	r := New(Config{
		Record:    rec,
		Stats:     st,
		Predictor: stubPredictor{ratio.Prediction{TargetComments: 10_000, TargetLikes: 10_000}},
		Provider:  prov,
		Inventory: inv,
		Policy:    fastPolicy(),
	})
	wait := startRunner(t, r, false)

	var lastComments, lastLikes int64
	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		assert.GreaterOrEqual(t, snap.OrderedComments, lastComments)
		assert.GreaterOrEqual(t, snap.OrderedLikes, lastLikes)
		lastComments, lastLikes = snap.OrderedComments, snap.OrderedLikes
		return lastComments >= 30 && lastLikes >= 30
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, wait())
}
