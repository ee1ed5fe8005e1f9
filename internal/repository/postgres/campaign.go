// Package postgres implements campaign persistence on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/soundlift/promo-monitor/internal/domain"
	"github.com/soundlift/promo-monitor/internal/supervisor"
)

// CampaignRepository stores campaign records in the promo_campaigns table.
type CampaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a repository over an open database handle.
func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, video_id, video_title, video_link, genre, comments_sheet_ref, sheet_tier,
	wait_time_seconds, minimum_engagement_delta_views, comment_service_id, like_service_id,
	desired_additional_views, likes_only, status, likes, comments, views,
	desired_likes, desired_comments, ordered_likes, ordered_comments, created_at, updated_at`

// Create inserts a new campaign record.
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO promo_campaigns (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.VideoID, c.VideoTitle, c.VideoLink, c.Genre, c.CommentsSheetRef, c.SheetTier,
		c.WaitTimeSeconds, c.MinEngagementDeltaViews, c.CommentServiceID, c.LikeServiceID,
		c.DesiredAdditionalViews, c.LikesOnly, c.Status, nullInt(c.Likes), nullInt(c.Comments), nullInt(c.Views),
		c.DesiredLikes, c.DesiredComments, c.OrderedLikes, c.OrderedComments, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting campaign: %w", err)
	}
	return nil
}

// Get fetches one campaign by identifier.
func (r *CampaignRepository) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM promo_campaigns WHERE id = $1`
	c, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching campaign: %w", err)
	}
	return c, nil
}

// Update writes every mutable field of a campaign back to its row.
func (r *CampaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	query := `
		UPDATE promo_campaigns SET
			video_title = $2, status = $3, likes = $4, comments = $5, views = $6,
			desired_likes = $7, desired_comments = $8, ordered_likes = $9, ordered_comments = $10,
			updated_at = $11
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.VideoTitle, c.Status, nullInt(c.Likes), nullInt(c.Comments), nullInt(c.Views),
		c.DesiredLikes, c.DesiredComments, c.OrderedLikes, c.OrderedComments, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}
	return requireRow(res, c.ID)
}

// UpdateStatus flips just the status column.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE promo_campaigns SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating campaign status: %w", err)
	}
	return requireRow(res, id)
}

// Delete removes a campaign row.
func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM promo_campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting campaign: %w", err)
	}
	return requireRow(res, id)
}

// List returns every campaign, newest first.
func (r *CampaignRepository) List(ctx context.Context) ([]*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM promo_campaigns ORDER BY created_at DESC`
	return r.queryCampaigns(ctx, query)
}

// ListByStatus returns campaigns in the given state, newest first.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM promo_campaigns WHERE status = $1 ORDER BY created_at DESC`
	return r.queryCampaigns(ctx, query, status)
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string, args ...any) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating campaigns: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                      domain.Campaign
		likes, comments, views sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.VideoID, &c.VideoTitle, &c.VideoLink, &c.Genre, &c.CommentsSheetRef, &c.SheetTier,
		&c.WaitTimeSeconds, &c.MinEngagementDeltaViews, &c.CommentServiceID, &c.LikeServiceID,
		&c.DesiredAdditionalViews, &c.LikesOnly, &c.Status, &likes, &comments, &views,
		&c.DesiredLikes, &c.DesiredComments, &c.OrderedLikes, &c.OrderedComments, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if likes.Valid {
		c.Likes = &likes.Int64
	}
	if comments.Valid {
		c.Comments = &comments.Int64
	}
	if views.Valid {
		c.Views = &views.Int64
	}
	return &c, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", supervisor.ErrNotFound, id)
	}
	return nil
}
