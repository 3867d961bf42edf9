package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
	"github.com/primoloyalty/broadcast-service/internal/queue"
	"github.com/primoloyalty/broadcast-service/internal/ratelimit"
	"github.com/primoloyalty/broadcast-service/internal/repository"
	"github.com/primoloyalty/broadcast-service/internal/telegram"
)

// ChunkProcessor delivers one chunk of a broadcast. It is the queue
// handler run by every worker; all workers share one rate limiter because
// the provider quota is per bot credential, not per broadcast.
//
// Failure handling per attempt:
//   - permanent (recipient blocked the bot): counted as error, next recipient
//   - other per-recipient errors: counted, next recipient
//   - transient (throttled/timeout): the whole chunk restarts after backoff,
//     nothing is aggregated for the abandoned attempt
//
// When transient retries exhaust, the failing recipient and everyone after
// it count as errors and the chunk reports what it has. Stats land in
// exactly one AddStats call per chunk completion.
type ChunkProcessor struct {
	BroadcastRepo repository.BroadcastRepositoryInterface
	UserRepo      repository.UserRepositoryInterface
	Sender        telegram.Sender
	Limiter       *ratelimit.Limiter

	MaxRetries  int
	BackoffBase time.Duration
	Log         zerolog.Logger
}

// Process handles one chunk job. A returned error means infrastructure
// trouble (DB unreachable); the queue requeues those. Delivery outcomes
// never surface as errors.
func (p *ChunkProcessor) Process(ctx context.Context, job queue.ChunkJob) error {
	log := p.Log.With().
		Str("chunk_id", job.ChunkID).
		Int64("broadcast_id", job.BroadcastID).
		Logger()

	b, err := p.BroadcastRepo.GetByID(job.BroadcastID)
	if err != nil {
		var notFound *appErrors.ErrBroadcastNotFound
		if errors.As(err, &notFound) {
			log.Error().Msg("broadcast gone, dropping chunk")
			return nil
		}
		return err
	}

	recipients, err := p.UserRepo.GetRecipientsByIDs(job.UserIDs)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		log.Warn().Msg("chunk resolved to zero recipients")
		return nil
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		success, errCount, transientAt := p.runAttempt(ctx, b, recipients)

		if transientAt < 0 {
			if err := p.BroadcastRepo.AddStats(job.BroadcastID, success, errCount); err != nil {
				return err
			}
			log.Info().
				Int("success", success).
				Int("errors", errCount).
				Dur("dur", time.Since(start)).
				Msg("chunk completed")
			return nil
		}

		if attempt >= p.MaxRetries {
			errCount += len(recipients) - transientAt
			if err := p.BroadcastRepo.AddStats(job.BroadcastID, success, errCount); err != nil {
				return err
			}
			log.Warn().
				Int("success", success).
				Int("errors", errCount).
				Int("attempts", attempt+1).
				Msg("chunk retries exhausted, remaining recipients counted as errors")
			return nil
		}

		delay := p.BackoffBase << uint(attempt)
		log.Warn().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("transient failure, retrying chunk")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runAttempt walks the chunk once, sending to each recipient exactly one
// time. It returns the attempt's tallies and the index of the recipient
// that hit a transient failure, or -1 when the pass finished.
func (p *ChunkProcessor) runAttempt(ctx context.Context, b *model.Broadcast, recipients []model.Recipient) (success, errCount, transientAt int) {
	for i, rec := range recipients {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return success, errCount, i
			}
		}

		text := PersonalizeContent(b.Content, rec)
		switch p.Sender.Send(ctx, rec, b, text) {
		case telegram.OutcomeSuccess:
			success++
		case telegram.OutcomePermanent:
			errCount++
		case telegram.OutcomeFailed:
			errCount++
		case telegram.OutcomeTransient:
			return success, errCount, i
		}
	}
	return success, errCount, -1
}
