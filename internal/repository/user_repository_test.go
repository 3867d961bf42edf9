package repository_test

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primoloyalty/broadcast-service/internal/model"
	"github.com/primoloyalty/broadcast-service/internal/repository"
)

var recipientRows = []string{"id", "telegram_id", "username", "first_name", "last_name"}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }

func TestResolveRecipientsBaseFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Only active, non-test users; ordered by id for deterministic chunking.
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE is_test = $1 AND status = $2 ORDER BY id ASC")).
		WillReturnRows(sqlmock.NewRows(recipientRows).
			AddRow(1, 100000001, "anna_k", "Anna", "Kim").
			AddRow(2, 100000002, "pavel_d", "Pavel", "Dronov"))

	repo := &repository.UserRepository{DB: db}
	recipients, err := repo.ResolveRecipients(nil, false)
	require.NoError(t, err)

	require.Len(t, recipients, 2)
	assert.Equal(t, int64(1), recipients[0].UserID)
	assert.Equal(t, int64(100000001), recipients[0].TelegramID)
	assert.Equal(t, "Anna", recipients[0].FirstName)
}

func TestResolveRecipientsWithDefinition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Tag membership is array overlap, birthday compares the month only.
	mock.ExpectQuery(regexp.QuoteMeta("tags && $4")).
		WillReturnRows(sqlmock.NewRows(recipientRows).
			AddRow(3, 100000003, "m_orlova", "Maria", "Orlova"))

	def := &model.Definition{
		IsSubscribed:  boolPtr(true),
		Tags:          []string{"vip", "regular"},
		BirthdayMonth: intPtr(7),
	}

	repo := &repository.UserRepository{DB: db}
	recipients, err := repo.ResolveRecipients(def, false)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "Maria", recipients[0].FirstName)
}

func TestResolveRecipientsDeduplicates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WillReturnRows(sqlmock.NewRows(recipientRows).
			AddRow(1, 100000001, "anna_k", "Anna", "Kim").
			AddRow(1, 100000001, "anna_k", "Anna", "Kim"))

	repo := &repository.UserRepository{DB: db}
	recipients, err := repo.ResolveRecipients(nil, false)
	require.NoError(t, err)
	assert.Len(t, recipients, 1)
}

func TestCountRecipients(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1342))

	repo := &repository.UserRepository{DB: db}
	count, err := repo.CountRecipients(&model.Definition{Source: strPtr("qr_code")}, false)
	require.NoError(t, err)
	assert.Equal(t, 1342, count)
}

func TestGetRecipientsByIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows(recipientRows).
			AddRow(1, 100000001, "anna_k", "Anna", "Kim").
			AddRow(4, 100000004, nil, "Sergey", nil))

	repo := &repository.UserRepository{DB: db}
	recipients, err := repo.GetRecipientsByIDs([]int64{1, 4})
	require.NoError(t, err)

	require.Len(t, recipients, 2)
	assert.Equal(t, "Sergey", recipients[1].FirstName)
	assert.Equal(t, "", recipients[1].Username)
}

func TestGetRecipientsByIDsEmptyInput(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := &repository.UserRepository{DB: db}
	recipients, err := repo.GetRecipientsByIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, recipients)
}
