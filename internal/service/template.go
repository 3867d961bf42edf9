package service

import (
	"strings"

	"github.com/primoloyalty/broadcast-service/internal/model"
)

// RenderTemplate substitutes {placeholder} tokens in a message body.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// PersonalizeContent renders the broadcast body for one recipient.
func PersonalizeContent(content string, rec model.Recipient) string {
	first := rec.FirstName
	if first == "" {
		first = rec.DisplayName()
	}
	return RenderTemplate(content, map[string]string{
		"first_name":   first,
		"last_name":    rec.LastName,
		"username":     rec.Username,
		"display_name": rec.DisplayName(),
	})
}
