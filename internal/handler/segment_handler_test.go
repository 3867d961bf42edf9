package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/handler"
	"github.com/primoloyalty/broadcast-service/internal/model"
)

type mockSegmentRepo struct {
	created *model.Segment
}

func (m *mockSegmentRepo) Create(s *model.Segment) error {
	s.ID = 1
	m.created = s
	return nil
}

func (m *mockSegmentRepo) Update(s *model.Segment) error { return nil }
func (m *mockSegmentRepo) GetByID(id int64) (*model.Segment, error) {
	return nil, appErrors.NewSegmentNotFound(id)
}
func (m *mockSegmentRepo) List(isTest bool) ([]*model.Segment, error) { return nil, nil }
func (m *mockSegmentRepo) Delete(id int64) error                      { return nil }

func TestCreateSegmentWithoutDefinition(t *testing.T) {
	repo := &mockSegmentRepo{}
	h := &handler.SegmentHandler{Repo: repo, Log: zerolog.Nop()}

	// No definition key at all: the segment covers all active users.
	body := []byte(`{"name": "All active users"}`)
	req := httptest.NewRequest("POST", "/segments", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateSegment(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, repo.created)
	assert.True(t, repo.created.Definition.IsEmpty())
	assert.True(t, repo.created.IsActive)
}

func TestCreateSegmentWithNullDefinition(t *testing.T) {
	repo := &mockSegmentRepo{}
	h := &handler.SegmentHandler{Repo: repo, Log: zerolog.Nop()}

	body := []byte(`{"name": "Everyone", "definition": null}`)
	req := httptest.NewRequest("POST", "/segments", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateSegment(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, repo.created)
	assert.True(t, repo.created.Definition.IsEmpty())
}

func TestCreateSegmentRejectsUnknownKey(t *testing.T) {
	repo := &mockSegmentRepo{}
	h := &handler.SegmentHandler{Repo: repo, Log: zerolog.Nop()}

	body := []byte(`{"name": "Bad", "definition": {"city": "Vladivostok"}}`)
	req := httptest.NewRequest("POST", "/segments", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateSegment(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "unknown filter key")
	assert.Nil(t, repo.created)
}

func TestCreateSegmentRequiresName(t *testing.T) {
	repo := &mockSegmentRepo{}
	h := &handler.SegmentHandler{Repo: repo, Log: zerolog.Nop()}

	body, _ := json.Marshal(map[string]interface{}{"definition": map[string]interface{}{}})
	req := httptest.NewRequest("POST", "/segments", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateSegment(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
