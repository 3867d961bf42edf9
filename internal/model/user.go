package model

import (
	"strings"
	"time"
)

// User is a registered loyalty-program member.
type User struct {
	ID           int64      `db:"id" json:"id"`
	TelegramID   int64      `db:"telegram_id" json:"telegram_id"`
	Username     string     `db:"username" json:"username,omitempty"`
	FirstName    string     `db:"first_name" json:"first_name,omitempty"`
	LastName     string     `db:"last_name" json:"last_name,omitempty"`
	Gender       string     `db:"gender" json:"gender"`
	Birthday     *time.Time `db:"birthday" json:"birthday,omitempty"`
	Source       string     `db:"source" json:"source,omitempty"`
	Tags         []string   `db:"tags" json:"tags,omitempty"`
	Status       string     `db:"status" json:"status"`
	IsSubscribed bool       `db:"is_subscribed" json:"is_subscribed"`
	IsTest       bool       `db:"is_test" json:"is_test"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Recipient is the delivery projection of a user, produced fresh on every
// dispatch and never cached across broadcasts.
type Recipient struct {
	UserID     int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// DisplayName is the admin-facing name fallback chain.
func (r Recipient) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
	if name != "" {
		return name
	}
	if r.Username != "" {
		return r.Username
	}
	return "there"
}
