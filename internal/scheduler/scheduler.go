// Package scheduler polls for scheduled broadcasts whose due time has
// arrived and hands each one to the dispatch pipeline exactly once.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/repository"
)

// Dispatcher is the downstream pipeline (satisfied by
// service.BroadcastService).
type Dispatcher interface {
	Dispatch(ctx context.Context, broadcastID int64) error
}

// Scheduler ticks once per minute. Due-time comparison happens in UTC; the
// cron itself runs in the business timezone so tick boundaries line up
// with what admins see.
type Scheduler struct {
	Repo       repository.BroadcastRepositoryInterface
	Dispatcher Dispatcher
	Location   *time.Location
	Log        zerolog.Logger

	cron *cron.Cron
	now  func() time.Time
}

func New(repo repository.BroadcastRepositoryInterface, d Dispatcher, loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		Repo:       repo,
		Dispatcher: d,
		Location:   loc,
		Log:        log,
		now:        time.Now,
	}
}

// Start registers the per-minute tick and launches the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithLocation(s.Location))
	_, err := s.cron.AddFunc("@every 1m", func() {
		s.Tick(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.Log.Info().Str("tz", s.Location.String()).Msg("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Tick claims and dispatches every due broadcast. A claim lost to a
// concurrent actor is skipped without noise; one broadcast failing never
// aborts the rest of the tick. A tick with nothing due is the steady state
// and logs only at debug.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.Repo.ListDue(s.now().UTC())
	if err != nil {
		s.Log.Error().Err(err).Msg("could not list due broadcasts")
		return
	}
	if len(due) == 0 {
		s.Log.Debug().Msg("no scheduled broadcasts due")
		return
	}

	s.Log.Info().Int("count", len(due)).Msg("due broadcasts found")

	for _, b := range due {
		if err := s.Repo.ClaimForSending(b.ID); err != nil {
			var claimed *appErrors.ErrAlreadyClaimed
			if errors.As(err, &claimed) {
				// Another scheduler or a send-now request owns this run.
				continue
			}
			s.Log.Error().Err(err).Int64("broadcast_id", b.ID).Msg("claim failed")
			continue
		}

		if err := s.Dispatcher.Dispatch(ctx, b.ID); err != nil {
			// Dispatch already moved the broadcast to error where needed.
			s.Log.Error().Err(err).Int64("broadcast_id", b.ID).Msg("dispatch failed")
			continue
		}
		s.Log.Info().Int64("broadcast_id", b.ID).Msg("broadcast dispatched")
	}
}
