package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundlift/promo-monitor/internal/domain"
	"github.com/soundlift/promo-monitor/internal/inventory"
	"github.com/soundlift/promo-monitor/internal/pkg/distlock"
	"github.com/soundlift/promo-monitor/internal/pkg/logger"
	"github.com/soundlift/promo-monitor/internal/runner"
)

// LockFactory builds a distributed lock scoped to one comment sheet. A nil
// factory disables cross-process sheet locking; the in-process guard still
// applies.
type LockFactory func(sheetRef string) distlock.DistLock

// Deps wires the supervisor to its collaborators.
type Deps struct {
	Repo      Repository
	Stats     runner.StatsSource
	Predictor runner.Predictor
	Provider  runner.OrderProvider
	Sheets    inventory.Store
	Policy    runner.Policy
	NewLock   LockFactory
}

// CreateParams carries operator input for a new campaign.
type CreateParams struct {
	VideoID                 string `json:"video_id"`
	VideoLink               string `json:"video_link"`
	Genre                   string `json:"genre"`
	CommentsSheetRef        string `json:"comments_sheet_ref"`
	SheetTier               string `json:"sheet_tier"`
	WaitTimeSeconds         int    `json:"wait_time_seconds"`
	MinEngagementDeltaViews int64  `json:"minimum_engagement_delta_views"`
	CommentServiceID        int    `json:"comment_service_id"`
	LikeServiceID           int    `json:"like_service_id"`
	DesiredAdditionalViews  int64  `json:"desired_additional_views"`
	LikesOnly               bool   `json:"likes_only"`
}

func (p CreateParams) validate() error {
	var missing []string
	if p.VideoID == "" {
		missing = append(missing, "video_id")
	}
	if p.VideoLink == "" {
		missing = append(missing, "video_link")
	}
	if p.Genre == "" {
		missing = append(missing, "genre")
	}
	if p.SheetTier == "" {
		missing = append(missing, "sheet_tier")
	}
	if !p.LikesOnly {
		if p.CommentsSheetRef == "" {
			missing = append(missing, "comments_sheet_ref")
		}
		if p.CommentServiceID <= 0 {
			missing = append(missing, "comment_service_id")
		}
	}
	if p.LikeServiceID <= 0 {
		missing = append(missing, "like_service_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if p.WaitTimeSeconds < 0 || p.MinEngagementDeltaViews < 0 || p.DesiredAdditionalViews < 0 {
		return fmt.Errorf("%w: negative numeric parameter", ErrValidation)
	}
	return nil
}

// entry tracks one active runner.
type entry struct {
	runner   *runner.Runner
	cancel   context.CancelFunc
	done     chan struct{}
	sheetRef string
	lock     distlock.DistLock
}

// Supervisor is the process-wide campaign registry.
type Supervisor struct {
	deps Deps

	mu           sync.Mutex
	active       map[string]*entry
	activeSheets map[string]string // sheet ref → campaign id
}

// New creates a supervisor. Call Restore once before serving operator
// traffic.
func New(deps Deps) *Supervisor {
	return &Supervisor{
		deps:         deps,
		active:       make(map[string]*entry),
		activeSheets: make(map[string]string),
	}
}

// Create validates the parameters, persists a new Running campaign, and
// spawns its runner. Returns the fresh campaign identifier.
func (s *Supervisor) Create(ctx context.Context, params CreateParams) (string, error) {
	if err := params.validate(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:                      uuid.NewString(),
		VideoID:                 params.VideoID,
		VideoLink:               params.VideoLink,
		Genre:                   params.Genre,
		CommentsSheetRef:        params.CommentsSheetRef,
		SheetTier:               params.SheetTier,
		WaitTimeSeconds:         params.WaitTimeSeconds,
		MinEngagementDeltaViews: params.MinEngagementDeltaViews,
		CommentServiceID:        params.CommentServiceID,
		LikeServiceID:           params.LikeServiceID,
		DesiredAdditionalViews:  params.DesiredAdditionalViews,
		LikesOnly:               params.LikesOnly,
		Status:                  domain.CampaignRunning,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := s.deps.Repo.Create(ctx, c); err != nil {
		return "", fmt.Errorf("persisting campaign: %w", err)
	}
	if err := s.spawn(ctx, c); err != nil {
		// Roll the record back to a terminal state so it cannot be
		// restored into the same conflict on restart.
		if uerr := s.deps.Repo.UpdateStatus(ctx, c.ID, domain.CampaignCompleted); uerr != nil {
			logger.Error("supervisor: rollback after failed spawn", "campaign_id", c.ID, "error", uerr)
		}
		return "", err
	}

	logger.Info("supervisor: campaign created", "campaign_id", c.ID, "video_id", c.VideoID, "genre", c.Genre)
	return c.ID, nil
}

// Start re-launches a completed campaign. Running campaigns are a no-op.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	s.mu.Lock()
	_, running := s.active[id]
	s.mu.Unlock()
	if running {
		return nil
	}

	c, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return err
	}

	// A new run: back to Running with fresh ordered counters.
	c.Status = domain.CampaignRunning
	c.OrderedLikes = 0
	c.OrderedComments = 0
	c.UpdatedAt = time.Now().UTC()
	if err := s.deps.Repo.Update(ctx, c); err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}

	if err := s.spawn(ctx, c); err != nil {
		if uerr := s.deps.Repo.UpdateStatus(ctx, id, domain.CampaignCompleted); uerr != nil {
			logger.Error("supervisor: rollback after failed start", "campaign_id", id, "error", uerr)
		}
		return err
	}
	logger.Info("supervisor: campaign started", "campaign_id", id)
	return nil
}

// StartAll starts every campaign that is not currently active.
func (s *Supervisor) StartAll(ctx context.Context) error {
	records, err := s.deps.Repo.List(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, c := range records {
		if err := s.Start(ctx, c.ID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("starting %s: %w", c.ID, err)
		}
	}
	return firstErr
}

// Stop marks the campaign Completed, cancels its runner, and waits for the
// loop to exit. Stopping a campaign without an active runner just fixes up
// the persisted status.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.active[id]
	if ok {
		delete(s.active, id)
		if e.sheetRef != "" {
			delete(s.activeSheets, e.sheetRef)
		}
	}
	s.mu.Unlock()

	if !ok {
		// Idempotent: the runner may have exited on its own already.
		if _, err := s.deps.Repo.Get(ctx, id); err != nil {
			return err
		}
		return s.deps.Repo.UpdateStatus(ctx, id, domain.CampaignCompleted)
	}

	e.runner.MarkCompleted()
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		// The entry is already gone from the registry, so nothing else
		// will release the sheet lock. Hand that off to a goroutine that
		// waits out the runner.
		go func() {
			<-e.done
			s.releaseLock(e)
		}()
		return ctx.Err()
	}
	s.releaseLock(e)

	logger.Info("supervisor: campaign stopped", "campaign_id", id)
	return nil
}

// StopAll stops every active runner and marks all records Completed.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping %s: %w", id, err)
		}
	}
	return firstErr
}

// Delete stops the campaign if active, then removes its record.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	if err := s.Stop(ctx, id); err != nil {
		return err
	}
	if err := s.deps.Repo.Delete(ctx, id); err != nil {
		return err
	}
	logger.Info("supervisor: campaign deleted", "campaign_id", id)
	return nil
}

// Status returns a coherent snapshot of one campaign, live from the runner
// when active, otherwise from persistence.
func (s *Supervisor) Status(ctx context.Context, id string) (domain.StatusSnapshot, error) {
	s.mu.Lock()
	e, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		return e.runner.Snapshot(), nil
	}

	c, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	return c.Snapshot(), nil
}

// StatusAll returns snapshots of every persisted campaign.
func (s *Supervisor) StatusAll(ctx context.Context) ([]domain.StatusSnapshot, error) {
	records, err := s.deps.Repo.List(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StatusSnapshot, 0, len(records))
	for _, c := range records {
		if e, ok := s.active[c.ID]; ok {
			out = append(out, e.runner.Snapshot())
			continue
		}
		out = append(out, c.Snapshot())
	}
	return out, nil
}

// ActiveCount reports how many runners are currently live.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Restore spawns a runner for every persisted campaign still marked
// Running. Call once at startup, before the operator surface accepts
// traffic.
func (s *Supervisor) Restore(ctx context.Context) error {
	records, err := s.deps.Repo.ListByStatus(ctx, domain.CampaignRunning)
	if err != nil {
		return fmt.Errorf("listing running campaigns: %w", err)
	}

	for _, c := range records {
		if err := s.spawn(ctx, c); err != nil {
			logger.Error("supervisor: restoring campaign failed", "campaign_id", c.ID, "error", err)
			if uerr := s.deps.Repo.UpdateStatus(ctx, c.ID, domain.CampaignCompleted); uerr != nil {
				logger.Error("supervisor: marking unrestorable campaign", "campaign_id", c.ID, "error", uerr)
			}
			continue
		}
		logger.Info("supervisor: campaign restored", "campaign_id", c.ID, "video_id", c.VideoID)
	}
	return nil
}

// spawn registers the campaign and launches its runner goroutine. The
// sheet guard rejects a second campaign on the same comment sheet.
func (s *Supervisor) spawn(ctx context.Context, c *domain.Campaign) error {
	var lock distlock.DistLock
	sheetRef := ""
	if !c.LikesOnly && c.CommentsSheetRef != "" {
		sheetRef = c.CommentsSheetRef

		s.mu.Lock()
		if owner, busy := s.activeSheets[sheetRef]; busy {
			s.mu.Unlock()
			return fmt.Errorf("%w: sheet %s held by campaign %s", ErrSheetInUse, sheetRef, owner)
		}
		s.activeSheets[sheetRef] = c.ID
		s.mu.Unlock()

		if s.deps.NewLock != nil {
			lock = s.deps.NewLock(sheetRef)
			ok, err := lock.Acquire(ctx)
			if err != nil || !ok {
				s.mu.Lock()
				delete(s.activeSheets, sheetRef)
				s.mu.Unlock()
				if err != nil {
					return fmt.Errorf("acquiring sheet lock: %w", err)
				}
				return fmt.Errorf("%w: sheet %s locked by another process", ErrSheetInUse, sheetRef)
			}
		}
	}

	var inv runner.CommentInventory
	if sheetRef != "" {
		inv = inventory.New(s.deps.Sheets, sheetRef)
	}

	r := runner.New(runner.Config{
		Record:    c,
		Stats:     s.deps.Stats,
		Predictor: s.deps.Predictor,
		Provider:  s.deps.Provider,
		Inventory: inv,
		Policy:    s.deps.Policy,
		Commit: func(ctx context.Context, c *domain.Campaign) error {
			return s.deps.Repo.Update(ctx, c)
		},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	e := &entry{runner: r, cancel: cancel, done: make(chan struct{}), sheetRef: sheetRef, lock: lock}

	s.mu.Lock()
	if _, exists := s.active[c.ID]; exists {
		s.mu.Unlock()
		cancel()
		s.releaseLock(e)
		if sheetRef != "" {
			s.mu.Lock()
			delete(s.activeSheets, sheetRef)
			s.mu.Unlock()
		}
		return fmt.Errorf("%w: campaign %s already active", ErrInvalidState, c.ID)
	}
	s.active[c.ID] = e
	s.mu.Unlock()

	go func() {
		defer close(e.done)
		var err error
		if c.LikesOnly {
			err = r.RunLikesOnly(runCtx)
		} else {
			err = r.Run(runCtx)
		}
		if err != nil {
			logger.Warn("supervisor: runner exited with error", "campaign_id", c.ID, "error", err)
		}
		s.onRunnerExit(c.ID, e)
	}()
	return nil
}

// onRunnerExit cleans up after a runner that terminated on its own. A
// concurrent Stop may have removed the entry already; only the goroutine
// that removes it releases the sheet.
func (s *Supervisor) onRunnerExit(id string, e *entry) {
	s.mu.Lock()
	current, ok := s.active[id]
	if ok && current == e {
		delete(s.active, id)
		if e.sheetRef != "" {
			delete(s.activeSheets, e.sheetRef)
		}
	}
	s.mu.Unlock()

	if ok && current == e {
		s.releaseLock(e)
		logger.Info("supervisor: runner finished", "campaign_id", id)
	}
}

func (s *Supervisor) releaseLock(e *entry) {
	if e.lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.lock.Release(ctx); err != nil {
		logger.Warn("supervisor: releasing sheet lock failed", "sheet_ref", e.sheetRef, "error", err)
	}
}
