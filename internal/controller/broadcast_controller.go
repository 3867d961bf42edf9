package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
	"github.com/primoloyalty/broadcast-service/internal/service"
)

// BroadcastController exposes the admin-facing broadcast operations:
// create, draft edit, schedule, send-now, retry, read with live counters.
type BroadcastController struct {
	Service  *service.BroadcastService
	Location *time.Location
	Log      zerolog.Logger
}

type broadcastPayload struct {
	Title            string           `json:"title"`
	Content          string           `json:"content"`
	MediaKind        string           `json:"media_kind"`
	MediaFileID      *string          `json:"media_file_id"`
	Buttons          model.ButtonRows `json:"buttons"`
	SegmentID        *int64           `json:"segment_id"`
	Filters          json.RawMessage  `json:"filters"`
	SendAt           *string          `json:"send_at"`
	CreatedByAdminID int64            `json:"created_by_admin_id"`
	IsTest           bool             `json:"is_test"`
}

func (c *BroadcastController) toInput(p broadcastPayload) (service.CreateBroadcastInput, error) {
	in := service.CreateBroadcastInput{
		Title:            p.Title,
		Content:          p.Content,
		MediaKind:        model.MediaKind(p.MediaKind),
		MediaFileID:      p.MediaFileID,
		Buttons:          p.Buttons,
		SegmentID:        p.SegmentID,
		CreatedByAdminID: p.CreatedByAdminID,
		IsTest:           p.IsTest,
	}

	if len(p.Filters) > 0 && string(p.Filters) != "null" {
		def, err := model.ParseDefinition(p.Filters)
		if err != nil {
			return in, err
		}
		in.Filters = def
	}

	if p.SendAt != nil && *p.SendAt != "" {
		t, err := c.parseTime(*p.SendAt)
		if err != nil {
			return in, err
		}
		in.SendAt = &t
	}

	return in, nil
}

// parseTime accepts RFC3339 or a zone-less "2006-01-02 15:04" interpreted
// in the business timezone. Storage is always UTC.
func (c *BroadcastController) parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or '2006-01-02 15:04'", raw)
	}
	return t.UTC(), nil
}

func (c *BroadcastController) CreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var payload broadcastPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	in, err := c.toInput(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := c.Service.CreateBroadcast(in)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(b)
}

func (c *BroadcastController) UpdateBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	var payload broadcastPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	in, err := c.toInput(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := c.Service.UpdateBroadcast(id, in)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, b)
}

func (c *BroadcastController) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")
	isTest := r.URL.Query().Get("is_test") == "true"

	broadcasts, pagination, err := c.Service.ListBroadcasts(page, pageSize, status, isTest)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"data":       broadcasts,
		"pagination": pagination,
	})
}

func (c *BroadcastController) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	b, err := c.Service.GetBroadcast(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, b)
}

func (c *BroadcastController) ScheduleBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	var body struct {
		SendAt string `json:"send_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sendAt, err := c.parseTime(body.SendAt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := c.Service.ScheduleBroadcast(id, sendAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, b)
}

func (c *BroadcastController) SendBroadcastNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	b, err := c.Service.SendNow(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"id":     b.ID,
		"status": b.Status,
	})
}

func (c *BroadcastController) RetryBroadcast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid broadcast id", http.StatusBadRequest)
		return
	}

	var body struct {
		SendAt *string `json:"send_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	var sendAt *time.Time
	if body.SendAt != nil && *body.SendAt != "" {
		t, err := c.parseTime(*body.SendAt)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendAt = &t
	}

	b, err := c.Service.Retry(id, sendAt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, b)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: not found -> 404,
// illegal transitions and non-editable broadcasts -> 409, configuration
// errors -> 422, everything else -> 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		bNotFound  *appErrors.ErrBroadcastNotFound
		sNotFound  *appErrors.ErrSegmentNotFound
		transition *appErrors.ErrInvalidTransition
		editable   *appErrors.ErrNotEditable
		claimed    *appErrors.ErrAlreadyClaimed
		unknownKey *appErrors.ErrUnknownFilterKey
		badValue   *appErrors.ErrInvalidFilterValue
	)

	switch {
	case errors.As(err, &bNotFound), errors.As(err, &sNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &transition), errors.As(err, &editable), errors.As(err, &claimed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &unknownKey), errors.As(err, &badValue):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
