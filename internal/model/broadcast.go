package model

import (
	"encoding/json"
	"time"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
)

// BroadcastStatus is the lifecycle state of a broadcast.
type BroadcastStatus string

const (
	StatusDraft     BroadcastStatus = "draft"
	StatusScheduled BroadcastStatus = "scheduled"
	StatusSending   BroadcastStatus = "sending"
	StatusSent      BroadcastStatus = "sent"
	StatusError     BroadcastStatus = "error"
)

// MediaKind selects the provider send method.
type MediaKind string

const (
	MediaNone     MediaKind = "none"
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Button is one inline keyboard button.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// ButtonRows is the inline keyboard layout, stored as JSON.
type ButtonRows [][]Button

// Broadcast is a single mass-message campaign.
//
// Status note: "sent" means the dispatch was handed off to the chunk queue,
// not that every delivery completed. success_count/error_count keep moving
// after the broadcast reaches "sent".
type Broadcast struct {
	ID          int64           `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Content     string          `db:"content" json:"content"`
	MediaKind   MediaKind       `db:"media_kind" json:"media_kind"`
	MediaFileID *string         `db:"media_file_id" json:"media_file_id,omitempty"`
	Buttons     ButtonRows      `db:"buttons" json:"buttons,omitempty"`
	SegmentID   *int64          `db:"segment_id" json:"segment_id,omitempty"`
	Filters     *Definition     `db:"filters" json:"filters,omitempty"`
	Status      BroadcastStatus `db:"status" json:"status"`
	SendAt      *time.Time      `db:"send_at" json:"send_at,omitempty"`
	SentAt      *time.Time      `db:"sent_at" json:"sent_at,omitempty"`

	RecipientCount int `db:"recipient_count" json:"recipient_count"`
	SuccessCount   int `db:"success_count" json:"success_count"`
	ErrorCount     int `db:"error_count" json:"error_count"`

	CreatedByAdminID int64      `db:"created_by_admin_id" json:"created_by_admin_id"`
	IsTest           bool       `db:"is_test" json:"is_test"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// allowedTransitions is the legal-transition table. Anything absent here
// is rejected. sent and error are re-enterable only through the explicit
// retry path (-> scheduled).
var allowedTransitions = map[BroadcastStatus][]BroadcastStatus{
	StatusDraft:     {StatusScheduled},
	StatusScheduled: {StatusSending},
	StatusSending:   {StatusSent, StatusError},
	StatusSent:      {StatusScheduled},
	StatusError:     {StatusScheduled},
}

// CanTransitionTo reports whether the status change is legal.
func (b *Broadcast) CanTransitionTo(next BroadcastStatus) bool {
	for _, s := range allowedTransitions[b.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo applies a legal status change and stamps sent_at when the
// broadcast reaches sent. Illegal changes leave the broadcast untouched.
func (b *Broadcast) TransitionTo(next BroadcastStatus) error {
	if !b.CanTransitionTo(next) {
		return appErrors.NewInvalidTransition(string(b.Status), string(next))
	}
	b.Status = next
	if next == StatusSent {
		now := time.Now().UTC()
		b.SentAt = &now
	}
	return nil
}

// IsEditable reports whether content mutation is allowed.
func (b *Broadcast) IsEditable() bool {
	return b.Status == StatusDraft
}

// HasSegment reports whether the broadcast targets a stored segment. When a
// segment reference and inline filters are both present the segment wins.
func (b *Broadcast) HasSegment() bool {
	return b.SegmentID != nil
}

// Value helpers for the JSON columns.

func (r ButtonRows) MarshalDB() ([]byte, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return json.Marshal(r)
}

func ButtonRowsFromDB(raw []byte) (ButtonRows, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows ButtonRows
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
