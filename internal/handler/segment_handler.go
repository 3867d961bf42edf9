package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
	"github.com/primoloyalty/broadcast-service/internal/repository"
	"github.com/primoloyalty/broadcast-service/internal/service"
)

// SegmentHandler exposes the reusable audience filters and the audience
// preview counts admins check before scheduling a broadcast.
type SegmentHandler struct {
	Repo    repository.SegmentRepositoryInterface
	Service *service.BroadcastService
	Log     zerolog.Logger
}

type segmentPayload struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Definition  json.RawMessage `json:"definition"`
	IsActive    *bool           `json:"is_active"`
	IsTest      bool            `json:"is_test"`
}

func (h *SegmentHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	isTest := r.URL.Query().Get("is_test") == "true"

	segments, err := h.Repo.List(isTest)
	if err != nil {
		http.Error(w, "failed to fetch segments: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(segments)
}

func (h *SegmentHandler) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var payload segmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if payload.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	// An absent definition is a segment over all active users.
	def := &model.Definition{}
	if len(payload.Definition) > 0 && string(payload.Definition) != "null" {
		parsed, err := model.ParseDefinition(payload.Definition)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		def = parsed
	}

	segment := &model.Segment{
		Name:        payload.Name,
		Description: payload.Description,
		Definition:  *def,
		IsActive:    true,
		IsTest:      payload.IsTest,
	}
	if payload.IsActive != nil {
		segment.IsActive = *payload.IsActive
	}

	if err := h.Repo.Create(segment); err != nil {
		http.Error(w, "failed to create segment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(segment)
}

func (h *SegmentHandler) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}

	var payload segmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	segment, err := h.Repo.GetByID(id)
	if err != nil {
		var notFound *appErrors.ErrSegmentNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if payload.Name != "" {
		segment.Name = payload.Name
	}
	if payload.Description != "" {
		segment.Description = payload.Description
	}
	if len(payload.Definition) > 0 {
		def, err := model.ParseDefinition(payload.Definition)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		segment.Definition = *def
	}
	if payload.IsActive != nil {
		segment.IsActive = *payload.IsActive
	}

	if err := h.Repo.Update(segment); err != nil {
		http.Error(w, "failed to update segment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(segment)
}

// DeleteSegment removes a stored segment. Broadcasts referencing it keep
// the id and resolve to an empty audience from now on.
func (h *SegmentHandler) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}

	if err := h.Repo.Delete(id); err != nil {
		http.Error(w, "failed to delete segment: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CountSegmentAudience previews how many active users a stored segment
// reaches right now.
func (h *SegmentHandler) CountSegmentAudience(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}
	isTest := r.URL.Query().Get("is_test") == "true"

	count, err := h.Service.CountAudience(&id, nil, isTest)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"segment_id": id, "count": count})
}

// CountAudience previews an inline filter without storing it.
func (h *SegmentHandler) CountAudience(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filters json.RawMessage `json:"filters"`
		IsTest  bool            `json:"is_test"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var def *model.Definition
	if len(body.Filters) > 0 && string(body.Filters) != "null" {
		parsed, err := model.ParseDefinition(body.Filters)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		def = parsed
	}

	count, err := h.Service.CountAudience(nil, def, body.IsTest)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"count": count})
}
