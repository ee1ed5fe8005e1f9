package supervisor

import (
	"context"

	"github.com/soundlift/promo-monitor/internal/domain"
)

// Repository is the persistence the supervisor needs for campaign records.
// Implementations must return ErrNotFound (possibly wrapped) when a
// campaign identifier is unknown.
type Repository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	Update(ctx context.Context, c *domain.Campaign) error
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error)
}
