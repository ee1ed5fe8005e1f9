// Package api exposes the operator surface: campaign lifecycle commands,
// status queries, and provider account checks over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/soundlift/promo-monitor/internal/domain"
	"github.com/soundlift/promo-monitor/internal/pkg/httputil"
	"github.com/soundlift/promo-monitor/internal/provider"
	"github.com/soundlift/promo-monitor/internal/supervisor"
)

// CampaignService is the slice of the supervisor the handlers use.
type CampaignService interface {
	Create(ctx context.Context, params supervisor.CreateParams) (string, error)
	Start(ctx context.Context, id string) error
	StartAll(ctx context.Context) error
	Stop(ctx context.Context, id string) error
	StopAll(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (domain.StatusSnapshot, error)
	StatusAll(ctx context.Context) ([]domain.StatusSnapshot, error)
}

// ProviderClient is the slice of the order provider the handlers use.
type ProviderClient interface {
	Balance(ctx context.Context) (*provider.Balance, error)
	OrderStatus(ctx context.Context, orderID int64) (*provider.OrderStatus, error)
}

// Handlers serves the operator API.
type Handlers struct {
	campaigns CampaignService
	provider  ProviderClient
}

// NewHandlers creates the handler set. The provider client may be nil;
// provider endpoints then answer 503.
func NewHandlers(campaigns CampaignService, providerClient ProviderClient) *Handlers {
	return &Handlers{campaigns: campaigns, provider: providerClient}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) createCampaign(w http.ResponseWriter, r *http.Request) {
	var params supervisor.CreateParams
	if !httputil.Decode(w, r, &params) {
		return
	}

	id, err := h.campaigns.Create(r.Context(), params)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Created(w, map[string]string{"campaign_id": id})
}

func (h *Handlers) listCampaigns(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.campaigns.StatusAll(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": snaps})
}

func (h *Handlers) campaignStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.campaigns.Status(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, snap)
}

func (h *Handlers) startCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	if err := h.campaigns.Start(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"campaign_id": id, "status": "started"})
}

func (h *Handlers) stopCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	if err := h.campaigns.Stop(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"campaign_id": id, "status": "stopped"})
}

func (h *Handlers) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")
	if err := h.campaigns.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"campaign_id": id, "status": "deleted"})
}

func (h *Handlers) startAll(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.StartAll(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "started"})
}

func (h *Handlers) stopAll(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.StopAll(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "stopped"})
}

func (h *Handlers) providerBalance(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "provider client not configured")
		return
	}
	bal, err := h.provider.Balance(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, bal)
}

func (h *Handlers) providerOrderStatus(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "provider client not configured")
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "order id must be an integer")
		return
	}
	st, err := h.provider.OrderStatus(r.Context(), orderID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, st)
}

// writeError maps supervisor errors to HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, supervisor.ErrValidation):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, supervisor.ErrSheetInUse), errors.Is(err, supervisor.ErrInvalidState):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
