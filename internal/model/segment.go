package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
)

// UserStatus values accepted by the status predicate.
const (
	UserStatusActive  = "active"
	UserStatusBlocked = "blocked"
)

// Gender values accepted by the gender predicate.
var validGenders = map[string]bool{"male": true, "female": true, "unknown": true}

// Definition is the closed predicate set a segment (or a broadcast's inline
// filter) may use. One optional field per supported key; a nil field means
// the predicate is absent. Unknown keys are rejected while decoding, so a
// bad definition never survives past creation.
type Definition struct {
	Status        *string    `json:"status,omitempty"`
	IsSubscribed  *bool      `json:"is_subscribed,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	Source        *string    `json:"source,omitempty"`
	Gender        *string    `json:"gender,omitempty"`
	BirthdayMonth *int       `json:"birthday_month,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
}

// ParseDefinition decodes and validates a raw JSON definition. Unknown keys
// are a configuration error, not something to ignore.
func ParseDefinition(raw []byte) (*Definition, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if key, ok := unknownFieldKey(err); ok {
			return nil, appErrors.NewUnknownFilterKey(key)
		}
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// unknownFieldKey extracts the offending key from encoding/json's
// DisallowUnknownFields error.
func unknownFieldKey(err error) (string, bool) {
	const marker = "unknown field "
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return "", false
	}
	key := strings.Trim(msg[i+len(marker):], `"`)
	return key, true
}

// Validate checks value ranges for the known predicates.
func (d *Definition) Validate() error {
	if d.Status != nil && *d.Status != UserStatusActive && *d.Status != UserStatusBlocked {
		return appErrors.NewInvalidFilterValue("status", "must be active or blocked")
	}
	if d.Gender != nil && !validGenders[*d.Gender] {
		return appErrors.NewInvalidFilterValue("gender", "must be male, female or unknown")
	}
	if d.BirthdayMonth != nil && (*d.BirthdayMonth < 1 || *d.BirthdayMonth > 12) {
		return appErrors.NewInvalidFilterValue("birthday_month", "must be in [1,12]")
	}
	for _, t := range d.Tags {
		if strings.TrimSpace(t) == "" {
			return appErrors.NewInvalidFilterValue("tags", "tags must be non-empty strings")
		}
	}
	if d.CreatedAfter != nil && d.CreatedBefore != nil && d.CreatedAfter.After(*d.CreatedBefore) {
		return appErrors.NewInvalidFilterValue("created_after", "lower bound is after upper bound")
	}
	return nil
}

// IsEmpty reports whether no predicate is set.
func (d *Definition) IsEmpty() bool {
	return d == nil || (d.Status == nil && d.IsSubscribed == nil && len(d.Tags) == 0 &&
		d.Source == nil && d.Gender == nil && d.BirthdayMonth == nil &&
		d.CreatedAfter == nil && d.CreatedBefore == nil)
}

// Segment is a named, reusable audience filter. Broadcasts keep only the
// segment id; deleting a segment later makes the reference resolve to an
// empty audience rather than an error.
type Segment struct {
	ID          int64      `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description,omitempty"`
	Definition  Definition `db:"definition" json:"definition"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	IsTest      bool       `db:"is_test" json:"is_test"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
