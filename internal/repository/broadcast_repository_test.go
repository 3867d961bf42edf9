package repository_test

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
	"github.com/primoloyalty/broadcast-service/internal/repository"
)

var broadcastRows = []string{
	"id", "title", "content", "media_kind", "media_file_id", "buttons", "segment_id", "filters",
	"status", "send_at", "sent_at", "recipient_count", "success_count", "error_count",
	"created_by_admin_id", "is_test", "created_at", "updated_at",
}

func TestClaimForSending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE broadcasts")).
		WithArgs(string(model.StatusSending), int64(42), string(model.StatusScheduled)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &repository.BroadcastRepository{DB: db}
	require.NoError(t, repo.ClaimForSending(42))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimForSendingLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Zero rows affected means another actor flipped the status first.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE broadcasts")).
		WithArgs(string(model.StatusSending), int64(42), string(model.StatusScheduled)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := &repository.BroadcastRepository{DB: db}
	err = repo.ClaimForSending(42)
	require.Error(t, err)

	var claimed *appErrors.ErrAlreadyClaimed
	require.True(t, errors.As(err, &claimed))
	assert.Equal(t, int64(42), claimed.BroadcastID)
}

func TestClaimForSendingResetsCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("recipient_count=0, success_count=0, error_count=0")).
		WithArgs(string(model.StatusSending), int64(7), string(model.StatusScheduled)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &repository.BroadcastRepository{DB: db}
	require.NoError(t, repo.ClaimForSending(7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleGuardsStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sendAt := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id=$3 AND status IN ($4, $5, $6)")).
		WithArgs(string(model.StatusScheduled), sendAt, int64(4),
			string(model.StatusDraft), string(model.StatusSent), string(model.StatusError)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &repository.BroadcastRepository{DB: db}
	require.NoError(t, repo.Schedule(4, &sendAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRejectsSendingBroadcast(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The status re-check at write time loses against a broadcast that went
	// sending after the caller's read; nothing is flipped back.
	sendAt := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id=$3 AND status IN ($4, $5, $6)")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE id=$1")).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(broadcastRows).AddRow(
			4, "In flight", "body", "none", nil, nil, nil, nil,
			"sending", nil, nil, 100, 40, 0, 1, false, created, nil,
		))

	repo := &repository.BroadcastRepository{DB: db}
	err = repo.Schedule(4, &sendAt)
	require.Error(t, err)

	var invalid *appErrors.ErrInvalidTransition
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "sending", invalid.From)
	assert.Equal(t, "scheduled", invalid.To)
}

func TestAddStatsAppliesBothDeltas(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("success_count=success_count+$1, error_count=error_count+$2")).
		WithArgs(990, 10, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &repository.BroadcastRepository{DB: db}
	require.NoError(t, repo.AddStats(5, 990, 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE id=$1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(broadcastRows))

	repo := &repository.BroadcastRepository{DB: db}
	_, err = repo.GetByID(99)
	require.Error(t, err)

	var notFound *appErrors.ErrBroadcastNotFound
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, int64(99), notFound.BroadcastID)
}

func TestGetByIDDecodesJSONColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM broadcasts WHERE id=$1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(broadcastRows).AddRow(
			1, "August promo", "Hi {first_name}!", "photo", "file-abc",
			[]byte(`[[{"text":"Catalog","url":"https://example.com"}]]`),
			nil, []byte(`{"tags":["vip"]}`),
			"draft", nil, nil, 0, 0, 0, 10, false, created, nil,
		))

	repo := &repository.BroadcastRepository{DB: db}
	b, err := repo.GetByID(1)
	require.NoError(t, err)

	assert.Equal(t, model.MediaPhoto, b.MediaKind)
	require.NotNil(t, b.MediaFileID)
	assert.Equal(t, "file-abc", *b.MediaFileID)
	require.Len(t, b.Buttons, 1)
	assert.Equal(t, "Catalog", b.Buttons[0][0].Text)
	require.NotNil(t, b.Filters)
	assert.Equal(t, []string{"vip"}, b.Filters.Tags)
	assert.Nil(t, b.SegmentID)
}

func TestListDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	due := now.Add(-time.Minute)
	created := now.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("send_at IS NOT NULL AND send_at <= $2")).
		WithArgs(string(model.StatusScheduled), now).
		WillReturnRows(sqlmock.NewRows(broadcastRows).AddRow(
			3, "Due", "body", "none", nil, nil, nil, nil,
			"scheduled", due, nil, 0, 0, 0, 1, false, created, nil,
		))

	repo := &repository.BroadcastRepository{DB: db}
	broadcasts, err := repo.ListDue(now)
	require.NoError(t, err)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, int64(3), broadcasts[0].ID)
	assert.Equal(t, model.StatusScheduled, broadcasts[0].Status)
}

func TestMarkSent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET status=$1, sent_at=NOW()")).
		WithArgs(string(model.StatusSent), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := &repository.BroadcastRepository{DB: db}
	require.NoError(t, repo.MarkSent(8))
	assert.NoError(t, mock.ExpectationsWereMet())
}
