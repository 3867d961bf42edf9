// Package telegram wraps the provider client behind a Sender interface so
// the chunk processor can be tested against deterministic fakes.
package telegram

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/primoloyalty/broadcast-service/internal/model"
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
	// OutcomeSuccess: delivered.
	OutcomeSuccess Outcome = iota
	// OutcomePermanent: the recipient blocked or removed the bot. Counted
	// as an error, never retried.
	OutcomePermanent
	// OutcomeTransient: the provider throttled or timed out. The whole
	// chunk is retried.
	OutcomeTransient
	// OutcomeFailed: any other per-recipient error. Counted, processing
	// continues with the next recipient.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePermanent:
		return "permanent"
	case OutcomeTransient:
		return "transient"
	default:
		return "failed"
	}
}

// Sender performs one delivery attempt for one recipient.
type Sender interface {
	Send(ctx context.Context, rec model.Recipient, b *model.Broadcast, text string) Outcome
}

// Client is the telebot-backed Sender. The HTTP client's timeout is the
// per-call ceiling; a call exceeding it classifies as transient.
type Client struct {
	bot *tele.Bot
	log zerolog.Logger
}

func NewClient(token string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Client{bot: bot, log: log}, nil
}

func (c *Client) Send(ctx context.Context, rec model.Recipient, b *model.Broadcast, text string) Outcome {
	if err := ctx.Err(); err != nil {
		return OutcomeTransient
	}

	to := tele.ChatID(rec.TelegramID)
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	if markup := inlineMarkup(b.Buttons); markup != nil {
		opts.ReplyMarkup = markup
	}

	var fileID string
	if b.MediaFileID != nil {
		fileID = *b.MediaFileID
	}

	var err error
	switch b.MediaKind {
	case model.MediaPhoto:
		_, err = c.bot.Send(to, &tele.Photo{File: tele.File{FileID: fileID}, Caption: text}, opts)
	case model.MediaVideo:
		_, err = c.bot.Send(to, &tele.Video{File: tele.File{FileID: fileID}, Caption: text}, opts)
	case model.MediaDocument:
		_, err = c.bot.Send(to, &tele.Document{File: tele.File{FileID: fileID}, Caption: text}, opts)
	default:
		_, err = c.bot.Send(to, text, opts)
	}

	outcome := Classify(err)
	if err != nil {
		c.log.Debug().Err(err).
			Int64("telegram_id", rec.TelegramID).
			Str("outcome", outcome.String()).
			Msg("send attempt failed")
	}
	return outcome
}

// Classify maps provider errors onto the delivery taxonomy. 403s mean the
// recipient blocked or deactivated the channel; 429 and timeouts are
// throttling; everything else is a single-recipient failure.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return OutcomeTransient
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusForbidden:
			return OutcomePermanent
		case apiErr.Code == http.StatusTooManyRequests:
			return OutcomeTransient
		case apiErr.Code >= 500:
			return OutcomeTransient
		default:
			return OutcomeFailed
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeTransient
	}

	return OutcomeFailed
}

func inlineMarkup(rows model.ButtonRows) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboard := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		line := make([]tele.InlineButton, 0, len(row))
		for _, btn := range row {
			line = append(line, tele.InlineButton{Text: btn.Text, URL: btn.URL})
		}
		keyboard = append(keyboard, line)
	}
	return &tele.ReplyMarkup{InlineKeyboard: keyboard}
}

var _ Sender = (*Client)(nil)
