package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of an engagement campaign.
// The only legal transition is Running → Completed.
type CampaignStatus string

const (
	CampaignRunning   CampaignStatus = "Running"
	CampaignCompleted CampaignStatus = "Completed"
)

// Campaign is the persistent, declarative description of one engagement
// campaign: the target video, the operator's parameters, and the latest
// observed/ordered counters written back by the runner.
type Campaign struct {
	ID               string `json:"id" db:"id"`
	VideoID          string `json:"video_id" db:"video_id"`
	VideoTitle       string `json:"video_title" db:"video_title"`
	VideoLink        string `json:"video_link" db:"video_link"`
	Genre            string `json:"genre" db:"genre"`
	CommentsSheetRef string `json:"comments_sheet_ref" db:"comments_sheet_ref"`
	SheetTier        string `json:"sheet_tier" db:"sheet_tier"`

	WaitTimeSeconds         int   `json:"wait_time_seconds" db:"wait_time_seconds"`
	MinEngagementDeltaViews int64 `json:"minimum_engagement_delta_views" db:"minimum_engagement_delta_views"`
	CommentServiceID        int   `json:"comment_service_id" db:"comment_service_id"`
	LikeServiceID           int   `json:"like_service_id" db:"like_service_id"`
	DesiredAdditionalViews  int64 `json:"desired_additional_views" db:"desired_additional_views"`

	// LikesOnly suppresses comment ordering for this campaign. The mode is
	// persisted so a restored runner keeps it across restarts.
	LikesOnly bool `json:"likes_only" db:"likes_only"`

	Status CampaignStatus `json:"status" db:"status"`

	// Observed metrics snapshot (nullable until the first successful
	// stats refresh; monotonically non-decreasing under normal operation)
	Likes    *int64 `json:"likes" db:"likes"`
	Comments *int64 `json:"comments" db:"comments"`
	Views    *int64 `json:"views" db:"views"`

	// Targets snapshot, recomputed each runner tick
	DesiredLikes    int64 `json:"desired_likes" db:"desired_likes"`
	DesiredComments int64 `json:"desired_comments" db:"desired_comments"`

	// Cumulative ordered counts, non-decreasing within a run
	OrderedLikes    int64 `json:"ordered_likes" db:"ordered_likes"`
	OrderedComments int64 `json:"ordered_comments" db:"ordered_comments"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true once the campaign has reached its final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted
}

// CurrentViews returns the last observed view count, or 0 before the first
// successful stats refresh.
func (c *Campaign) CurrentViews() int64 {
	if c.Views == nil {
		return 0
	}
	return *c.Views
}

// CurrentLikes returns the last observed like count, or 0 if unknown.
func (c *Campaign) CurrentLikes() int64 {
	if c.Likes == nil {
		return 0
	}
	return *c.Likes
}

// CurrentComments returns the last observed comment count, or 0 if unknown.
func (c *Campaign) CurrentComments() int64 {
	if c.Comments == nil {
		return 0
	}
	return *c.Comments
}

// StatusSnapshot is the coherent read surfaced by the supervisor's status
// operations. Desired targets are floored to integers for display.
type StatusSnapshot struct {
	CampaignID      string         `json:"campaign_id"`
	VideoID         string         `json:"video_id"`
	VideoTitle      string         `json:"video_title"`
	Status          CampaignStatus `json:"status"`
	Views           int64          `json:"views"`
	Likes           int64          `json:"likes"`
	Comments        int64          `json:"comments"`
	DesiredLikes    int64          `json:"desired_likes"`
	DesiredComments int64          `json:"desired_comments"`
	OrderedLikes    int64          `json:"ordered_likes"`
	OrderedComments int64          `json:"ordered_comments"`
}

// Snapshot builds a StatusSnapshot from the campaign's current fields.
func (c *Campaign) Snapshot() StatusSnapshot {
	return StatusSnapshot{
		CampaignID:      c.ID,
		VideoID:         c.VideoID,
		VideoTitle:      c.VideoTitle,
		Status:          c.Status,
		Views:           c.CurrentViews(),
		Likes:           c.CurrentLikes(),
		Comments:        c.CurrentComments(),
		DesiredLikes:    c.DesiredLikes,
		DesiredComments: c.DesiredComments,
		OrderedLikes:    c.OrderedLikes,
		OrderedComments: c.OrderedComments,
	}
}
