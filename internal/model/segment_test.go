package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
)

func TestParseDefinition(t *testing.T) {
	def, err := model.ParseDefinition([]byte(`{
		"status": "active",
		"is_subscribed": true,
		"tags": ["vip", "regular"],
		"birthday_month": 3
	}`))
	require.NoError(t, err)

	require.NotNil(t, def.Status)
	assert.Equal(t, "active", *def.Status)
	require.NotNil(t, def.IsSubscribed)
	assert.True(t, *def.IsSubscribed)
	assert.Equal(t, []string{"vip", "regular"}, def.Tags)
	require.NotNil(t, def.BirthdayMonth)
	assert.Equal(t, 3, *def.BirthdayMonth)
	assert.False(t, def.IsEmpty())
}

func TestParseDefinitionRejectsUnknownKey(t *testing.T) {
	_, err := model.ParseDefinition([]byte(`{"status": "active", "city": "Vladivostok"}`))
	require.Error(t, err)

	var unknown *appErrors.ErrUnknownFilterKey
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "city", unknown.Key)
}

func TestParseDefinitionRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		key  string
	}{
		{"bad status", `{"status": "banned"}`, "status"},
		{"bad gender", `{"gender": "other"}`, "gender"},
		{"month too low", `{"birthday_month": 0}`, "birthday_month"},
		{"month too high", `{"birthday_month": 13}`, "birthday_month"},
		{"blank tag", `{"tags": ["vip", "  "]}`, "tags"},
		{"inverted bounds", `{"created_after": "2026-02-01T00:00:00Z", "created_before": "2026-01-01T00:00:00Z"}`, "created_after"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := model.ParseDefinition([]byte(tc.raw))
			require.Error(t, err)

			var invalid *appErrors.ErrInvalidFilterValue
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tc.key, invalid.Key)
		})
	}
}

func TestDefinitionIsEmpty(t *testing.T) {
	var nilDef *model.Definition
	assert.True(t, nilDef.IsEmpty())
	assert.True(t, (&model.Definition{}).IsEmpty())

	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, (&model.Definition{CreatedAfter: &after}).IsEmpty())
	assert.False(t, (&model.Definition{Tags: []string{"vip"}}).IsEmpty())
}

func TestParseDefinitionEmptyObject(t *testing.T) {
	def, err := model.ParseDefinition([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, def.IsEmpty())
}
