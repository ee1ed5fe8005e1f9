package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundlift/promo-monitor/internal/domain"
	"github.com/soundlift/promo-monitor/internal/pkg/distlock"
	"github.com/soundlift/promo-monitor/internal/ratio"
	"github.com/soundlift/promo-monitor/internal/runner"
	"github.com/soundlift/promo-monitor/internal/sheets"
	"github.com/soundlift/promo-monitor/internal/stats"
)

// memRepo is an in-memory Repository for tests.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

func newMemRepo() *memRepo {
	return &memRepo{campaigns: make(map[string]*domain.Campaign)}
}

func (m *memRepo) Create(ctx context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	m.campaigns[c.ID] = &clone
	return nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	clone := *c
	return &clone, nil
}

func (m *memRepo) Update(ctx context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	clone := *c
	m.campaigns[c.ID] = &clone
	return nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Status = status
	return nil
}

func (m *memRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memRepo) List(ctx context.Context) ([]*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		clone := *c
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	all, _ := m.List(ctx)
	var out []*domain.Campaign
	for _, c := range all {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRepo) status(id string) domain.CampaignStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		return c.Status
	}
	return ""
}

// steadyStats keeps every campaign running: counters never move, targets
// stay out of reach.
type steadyStats struct{}

func (steadyStats) VideoStats(ctx context.Context, videoID string) (*stats.VideoStats, error) {
	return &stats.VideoStats{Views: 10_000, Likes: 100, Comments: 300, Title: "steady"}, nil
}

// doneStats reports likes already past any target, so likes-only runs
// finish on their first iteration.
type doneStats struct{}

func (doneStats) VideoStats(ctx context.Context, videoID string) (*stats.VideoStats, error) {
	return &stats.VideoStats{Views: 10_000, Likes: 99_999, Comments: 300, Title: "done"}, nil
}

type fixedPredictor struct{}

func (fixedPredictor) Predict(ctx context.Context, genre, tier string, currentViews, additionalViews int64) ratio.Prediction {
	return ratio.Prediction{TargetComments: 350, TargetLikes: 5_000}
}

type noopProvider struct{}

func (noopProvider) OrderLikes(ctx context.Context, serviceID int, link string, quantity int) (int64, error) {
	return 1, nil
}

func (noopProvider) OrderComments(ctx context.Context, serviceID int, link string, comments []string) (int64, error) {
	return 2, nil
}

type stubSheets struct{}

func (stubSheets) ReadRows(ctx context.Context, ref string) ([]sheets.Row, error) {
	rows := make([]sheets.Row, 40)
	for i := range rows {
		rows[i] = sheets.Row{Text: fmt.Sprintf("comment %d", i)}
	}
	return rows, nil
}

func (stubSheets) MarkUsed(ctx context.Context, ref string, through int) error { return nil }

// refuseLock always reports the sheet as held elsewhere.
type refuseLock struct{}

func (refuseLock) Acquire(ctx context.Context) (bool, error) { return false, nil }
func (refuseLock) Release(ctx context.Context) error         { return nil }

// countingLock grants every acquire and counts releases.
type countingLock struct {
	mu       sync.Mutex
	released int
}

func (l *countingLock) Acquire(ctx context.Context) (bool, error) { return true, nil }

func (l *countingLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func (l *countingLock) releaseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// slowStats holds each refresh long enough for a Stop to time out while
// the runner is still mid-iteration.
type slowStats struct{}

func (slowStats) VideoStats(ctx context.Context, videoID string) (*stats.VideoStats, error) {
	time.Sleep(200 * time.Millisecond)
	return &stats.VideoStats{Views: 10_000, Likes: 100, Comments: 300, Title: "slow"}, nil
}

func testDeps(repo Repository, src runner.StatsSource) Deps {
	return Deps{
		Repo:      repo,
		Stats:     src,
		Predictor: fixedPredictor{},
		Provider:  noopProvider{},
		Sheets:    stubSheets{},
		Policy: runner.Policy{
			Tick:                    time.Millisecond,
			MinEngagementDeltaViews: 1000,
			LongIntervalThreshold:   time.Hour,
			LongSleepMin:            time.Millisecond,
			LongSleepMax:            2 * time.Millisecond,
			BatchCeiling:            10,
			LikeLongMin:             35,
			LikeLongMax:             65,
		},
	}
}

func testParams(sheetRef string) CreateParams {
	return CreateParams{
		VideoID:                 "vid-1",
		VideoLink:               "https://youtu.be/vid-1",
		Genre:                   "lofi",
		CommentsSheetRef:        sheetRef,
		SheetTier:               "tier1",
		MinEngagementDeltaViews: 1000,
		CommentServiceID:        771,
		LikeServiceID:           402,
	}
}

func TestCreateSpawnsRunnerAndStopTerminatesIt(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, steadyStats{}))
	ctx := context.Background()

	id, err := s.Create(ctx, testParams("sheet-1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, s.ActiveCount())

	snap, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignRunning, snap.Status)

	require.NoError(t, s.Stop(ctx, id))
	assert.Equal(t, 0, s.ActiveCount())
	assert.Equal(t, domain.CampaignCompleted, repo.status(id))

	// Status still answers from persistence after the runner is gone.
	snap, err = s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, snap.Status)
}

func TestCreateValidation(t *testing.T) {
	s := New(testDeps(newMemRepo(), steadyStats{}))

	params := testParams("sheet-1")
	params.VideoID = ""
	params.LikeServiceID = 0

	_, err := s.Create(context.Background(), params)
	require.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "video_id")
	assert.ErrorContains(t, err, "like_service_id")
	assert.Equal(t, 0, s.ActiveCount())
}

func TestSheetGuardRejectsSecondCampaign(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, steadyStats{}))
	ctx := context.Background()

	first, err := s.Create(ctx, testParams("sheet-shared"))
	require.NoError(t, err)

	_, err = s.Create(ctx, testParams("sheet-shared"))
	require.ErrorIs(t, err, ErrSheetInUse)
	assert.Equal(t, 1, s.ActiveCount())

	// Once the first campaign stops, the sheet frees up.
	require.NoError(t, s.Stop(ctx, first))
	second, err := s.Create(ctx, testParams("sheet-shared"))
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx, second))
}

func TestLockFactoryRefusalRejectsSpawn(t *testing.T) {
	repo := newMemRepo()
	deps := testDeps(repo, steadyStats{})
	deps.NewLock = func(sheetRef string) distlock.DistLock {
		return refuseLock{}
	}

	s := New(deps)
	_, err := s.Create(context.Background(), testParams("sheet-1"))
	require.ErrorIs(t, err, ErrSheetInUse)
	assert.Equal(t, 0, s.ActiveCount())
}

func TestStopIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, steadyStats{}))
	ctx := context.Background()

	id, err := s.Create(ctx, testParams("sheet-1"))
	require.NoError(t, err)

	require.NoError(t, s.Stop(ctx, id))
	require.NoError(t, s.Stop(ctx, id))
	assert.Equal(t, 0, s.ActiveCount())
}

func TestStopTimeoutStillReleasesSheetLock(t *testing.T) {
	repo := newMemRepo()
	lk := &countingLock{}
	deps := testDeps(repo, slowStats{})
	deps.NewLock = func(sheetRef string) distlock.DistLock { return lk }

	s := New(deps)
	id, err := s.Create(context.Background(), testParams("sheet-1"))
	require.NoError(t, err)

	// Stop with an expired context: the runner is stuck in a stats refresh,
	// so the wait gives up before the loop exits.
	stopCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Stop(stopCtx, id)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.ActiveCount())

	// The lock must still come free once the runner winds down.
	require.Eventually(t, func() bool {
		return lk.releaseCount() == 1
	}, 5*time.Second, time.Millisecond)
}

func TestStopUnknownCampaign(t *testing.T) {
	s := New(testDeps(newMemRepo(), steadyStats{}))
	err := s.Stop(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteStopsAndRemoves(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, steadyStats{}))
	ctx := context.Background()

	id, err := s.Create(ctx, testParams("sheet-1"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	assert.Equal(t, 0, s.ActiveCount())

	_, err = s.Status(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartRelaunchesCompletedCampaign(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, steadyStats{}))
	ctx := context.Background()

	id, err := s.Create(ctx, testParams("sheet-1"))
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx, id))

	require.NoError(t, s.Start(ctx, id))
	assert.Equal(t, 1, s.ActiveCount())
	assert.Equal(t, domain.CampaignRunning, repo.status(id))

	// Starting an already running campaign is a no-op.
	require.NoError(t, s.Start(ctx, id))
	assert.Equal(t, 1, s.ActiveCount())

	require.NoError(t, s.Stop(ctx, id))
}

func TestStopAll(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, steadyStats{}))
	ctx := context.Background()

	a, err := s.Create(ctx, testParams("sheet-a"))
	require.NoError(t, err)
	b, err := s.Create(ctx, testParams("sheet-b"))
	require.NoError(t, err)
	require.Equal(t, 2, s.ActiveCount())

	require.NoError(t, s.StopAll(ctx))
	assert.Equal(t, 0, s.ActiveCount())
	assert.Equal(t, domain.CampaignCompleted, repo.status(a))
	assert.Equal(t, domain.CampaignCompleted, repo.status(b))
}

func TestStatusAllMixesLiveAndPersisted(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, steadyStats{}))
	ctx := context.Background()

	a, err := s.Create(ctx, testParams("sheet-a"))
	require.NoError(t, err)
	b, err := s.Create(ctx, testParams("sheet-b"))
	require.NoError(t, err)
	require.NoError(t, s.Stop(ctx, b))

	snaps, err := s.StatusAll(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	byID := map[string]domain.StatusSnapshot{}
	for _, snap := range snaps {
		byID[snap.CampaignID] = snap
	}
	assert.Equal(t, domain.CampaignRunning, byID[a].Status)
	assert.Equal(t, domain.CampaignCompleted, byID[b].Status)

	require.NoError(t, s.StopAll(ctx))
}

func TestRestoreSpawnsRunningCampaigns(t *testing.T) {
	repo := newMemRepo()
	running := &domain.Campaign{
		ID:               "restored-1",
		VideoID:          "vid-1",
		VideoLink:        "https://youtu.be/vid-1",
		Genre:            "lofi",
		CommentsSheetRef: "sheet-1",
		SheetTier:        "tier1",
		CommentServiceID: 771,
		LikeServiceID:    402,
		Status:           domain.CampaignRunning,
	}
	completed := &domain.Campaign{
		ID:     "finished-1",
		Status: domain.CampaignCompleted,
	}
	require.NoError(t, repo.Create(context.Background(), running))
	require.NoError(t, repo.Create(context.Background(), completed))

	s := New(testDeps(repo, steadyStats{}))
	require.NoError(t, s.Restore(context.Background()))
	assert.Equal(t, 1, s.ActiveCount())

	snap, err := s.Status(context.Background(), "restored-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignRunning, snap.Status)

	require.NoError(t, s.StopAll(context.Background()))
}

func TestSelfTerminatingRunnerLeavesRegistry(t *testing.T) {
	repo := newMemRepo()
	s := New(testDeps(repo, doneStats{}))
	ctx := context.Background()

	params := testParams("")
	params.LikesOnly = true
	params.CommentServiceID = 0

	id, err := s.Create(ctx, params)
	require.NoError(t, err)

	// Likes are already past the target, so the runner completes on its
	// first iteration and cleans itself out of the registry.
	require.Eventually(t, func() bool {
		return s.ActiveCount() == 0
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, domain.CampaignCompleted, repo.status(id))

	snap, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, snap.Status)
}
