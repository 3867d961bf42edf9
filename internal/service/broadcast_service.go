package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
	"github.com/primoloyalty/broadcast-service/internal/queue"
	"github.com/primoloyalty/broadcast-service/internal/repository"
)

// BroadcastService owns the broadcast lifecycle: creation and draft edits,
// scheduling, the send-now and retry paths, and the dispatch fan-out that
// turns a sending broadcast into queued chunks.
type BroadcastService struct {
	BroadcastRepo repository.BroadcastRepositoryInterface
	SegmentRepo   repository.SegmentRepositoryInterface
	UserRepo      repository.UserRepositoryInterface
	Queue         queue.Queue

	ChunkSize      int
	EnqueueRetries int
	Log            zerolog.Logger
}

// CreateBroadcastInput carries the admin-provided fields.
type CreateBroadcastInput struct {
	Title            string
	Content          string
	MediaKind        model.MediaKind
	MediaFileID      *string
	Buttons          model.ButtonRows
	SegmentID        *int64
	Filters          *model.Definition
	SendAt           *time.Time
	CreatedByAdminID int64
	IsTest           bool
}

func (in *CreateBroadcastInput) validate() error {
	if in.Title == "" {
		return fmt.Errorf("title is required")
	}
	if in.Content == "" {
		return fmt.Errorf("content is required")
	}
	switch in.MediaKind {
	case "", model.MediaNone:
	case model.MediaPhoto, model.MediaVideo, model.MediaDocument:
		if in.MediaFileID == nil || *in.MediaFileID == "" {
			return fmt.Errorf("media_file_id is required for media kind %q", in.MediaKind)
		}
	default:
		return fmt.Errorf("unknown media kind %q", in.MediaKind)
	}
	if in.Filters != nil {
		if err := in.Filters.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreateBroadcast validates targeting up front so a bad filter never
// survives past creation, then stores the broadcast as a draft.
func (s *BroadcastService) CreateBroadcast(in CreateBroadcastInput) (*model.Broadcast, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	b := &model.Broadcast{
		Title:            in.Title,
		Content:          in.Content,
		MediaKind:        in.MediaKind,
		MediaFileID:      in.MediaFileID,
		Buttons:          in.Buttons,
		SegmentID:        in.SegmentID,
		Filters:          in.Filters,
		Status:           model.StatusDraft,
		SendAt:           in.SendAt,
		CreatedByAdminID: in.CreatedByAdminID,
		IsTest:           in.IsTest,
	}
	if b.MediaKind == "" {
		b.MediaKind = model.MediaNone
	}

	if err := s.BroadcastRepo.Create(b); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBroadcast rewrites content/targeting. Only drafts are editable.
func (s *BroadcastService) UpdateBroadcast(id int64, in CreateBroadcastInput) (*model.Broadcast, error) {
	b, err := s.BroadcastRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !b.IsEditable() {
		return nil, appErrors.NewNotEditable(id, string(b.Status))
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	b.Title = in.Title
	b.Content = in.Content
	b.MediaKind = in.MediaKind
	if b.MediaKind == "" {
		b.MediaKind = model.MediaNone
	}
	b.MediaFileID = in.MediaFileID
	b.Buttons = in.Buttons
	b.SegmentID = in.SegmentID
	b.Filters = in.Filters
	b.SendAt = in.SendAt

	if err := s.BroadcastRepo.Update(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ScheduleBroadcast moves a draft (or a retried broadcast) to scheduled
// with a future due time.
func (s *BroadcastService) ScheduleBroadcast(id int64, sendAt time.Time) (*model.Broadcast, error) {
	b, err := s.BroadcastRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if err := b.TransitionTo(model.StatusScheduled); err != nil {
		return nil, err
	}
	if !sendAt.After(time.Now()) {
		return nil, fmt.Errorf("send_at must be in the future")
	}

	utc := sendAt.UTC()
	if err := s.BroadcastRepo.Schedule(id, &utc); err != nil {
		return nil, err
	}
	b.SendAt = &utc
	return b, nil
}

// SendNow claims a scheduled broadcast and dispatches it in the
// background, mirroring the scheduler path. The claim is atomic, so a
// concurrent scheduler tick and a send-now request cannot both own the
// run.
func (s *BroadcastService) SendNow(id int64) (*model.Broadcast, error) {
	b, err := s.BroadcastRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !b.CanTransitionTo(model.StatusSending) {
		return nil, appErrors.NewInvalidTransition(string(b.Status), string(model.StatusSending))
	}

	if err := s.BroadcastRepo.ClaimForSending(id); err != nil {
		return nil, err
	}
	b.Status = model.StatusSending

	go func() {
		if err := s.Dispatch(context.Background(), id); err != nil {
			s.Log.Error().Err(err).Int64("broadcast_id", id).Msg("dispatch failed")
		}
	}()

	return b, nil
}

// Retry re-arms a finished or failed broadcast. With a send time it waits
// for the scheduler; without one it stays scheduled until an explicit
// send-now.
func (s *BroadcastService) Retry(id int64, sendAt *time.Time) (*model.Broadcast, error) {
	b, err := s.BroadcastRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.StatusSent && b.Status != model.StatusError {
		return nil, appErrors.NewInvalidTransition(string(b.Status), string(model.StatusScheduled))
	}

	var utc *time.Time
	if sendAt != nil {
		t := sendAt.UTC()
		utc = &t
	}
	if err := s.BroadcastRepo.Schedule(id, utc); err != nil {
		return nil, err
	}
	b.Status = model.StatusScheduled
	b.SendAt = utc
	return b, nil
}

// Dispatch resolves the audience of a broadcast already claimed for
// sending, splits it into chunks and enqueues every chunk. The broadcast
// is marked sent as soon as hand-off completes; counters keep updating as
// chunks report. Resolution failures and an exhausted enqueue budget move
// the broadcast to error instead.
func (s *BroadcastService) Dispatch(ctx context.Context, broadcastID int64) error {
	log := s.Log.With().Int64("broadcast_id", broadcastID).Logger()

	b, err := s.BroadcastRepo.GetByID(broadcastID)
	if err != nil {
		return err
	}
	if b.Status != model.StatusSending {
		return fmt.Errorf("broadcast %d is not in sending state: %s", broadcastID, b.Status)
	}

	recipients, err := s.resolveAudience(b)
	if err != nil {
		log.Error().Err(err).Msg("audience resolution failed")
		if markErr := s.BroadcastRepo.UpdateStatus(broadcastID, model.StatusError); markErr != nil {
			log.Error().Err(markErr).Msg("could not mark broadcast as error")
		}
		return err
	}

	if err := s.BroadcastRepo.SetRecipientCount(broadcastID, len(recipients)); err != nil {
		log.Error().Err(err).Msg("could not store recipient count")
		if markErr := s.BroadcastRepo.UpdateStatus(broadcastID, model.StatusError); markErr != nil {
			log.Error().Err(markErr).Msg("could not mark broadcast as error")
		}
		return err
	}

	if len(recipients) == 0 {
		log.Warn().Msg("no recipients, marking sent")
		return s.BroadcastRepo.MarkSent(broadcastID)
	}

	ids := make([]int64, len(recipients))
	for i, rec := range recipients {
		ids[i] = rec.UserID
	}

	chunks := splitChunks(ids, s.ChunkSize)
	log.Info().Int("recipients", len(ids)).Int("chunks", len(chunks)).Msg("dispatching broadcast")

	for _, chunk := range chunks {
		job := queue.ChunkJob{
			ChunkID:     uuid.NewString(),
			BroadcastID: broadcastID,
			UserIDs:     chunk,
		}
		if err := s.publishWithRetry(ctx, job); err != nil {
			log.Error().Err(err).Str("chunk_id", job.ChunkID).Msg("enqueue budget exhausted")
			if markErr := s.BroadcastRepo.UpdateStatus(broadcastID, model.StatusError); markErr != nil {
				log.Error().Err(markErr).Msg("could not mark broadcast as error")
			}
			return err
		}
	}

	return s.BroadcastRepo.MarkSent(broadcastID)
}

// publishWithRetry absorbs transient broker hiccups; exhaustion is a
// broadcast-level infrastructure failure.
func (s *BroadcastService) publishWithRetry(ctx context.Context, job queue.ChunkJob) error {
	var last error
	for attempt := 0; attempt <= s.EnqueueRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if last = s.Queue.Publish(ctx, job); last == nil {
			return nil
		}
	}
	return last
}

// resolveAudience turns the broadcast's targeting into recipients. The
// segment reference wins over inline filters; a deleted segment resolves
// to an empty audience, not an error.
func (s *BroadcastService) resolveAudience(b *model.Broadcast) ([]model.Recipient, error) {
	if b.SegmentID != nil {
		segment, err := s.SegmentRepo.GetByID(*b.SegmentID)
		if err != nil {
			var notFound *appErrors.ErrSegmentNotFound
			if errors.As(err, &notFound) {
				return nil, nil
			}
			return nil, err
		}
		return s.UserRepo.ResolveRecipients(&segment.Definition, b.IsTest)
	}
	return s.UserRepo.ResolveRecipients(b.Filters, b.IsTest)
}

// CountAudience previews the audience size for a targeting rule.
func (s *BroadcastService) CountAudience(segmentID *int64, def *model.Definition, isTest bool) (int, error) {
	if segmentID != nil {
		segment, err := s.SegmentRepo.GetByID(*segmentID)
		if err != nil {
			var notFound *appErrors.ErrSegmentNotFound
			if errors.As(err, &notFound) {
				return 0, nil
			}
			return 0, err
		}
		return s.UserRepo.CountRecipients(&segment.Definition, isTest)
	}
	return s.UserRepo.CountRecipients(def, isTest)
}

// GetBroadcast returns one broadcast including its live counters.
func (s *BroadcastService) GetBroadcast(id int64) (*model.Broadcast, error) {
	return s.BroadcastRepo.GetByID(id)
}

// ListBroadcasts pages through broadcasts within a test/production
// partition.
func (s *BroadcastService) ListBroadcasts(page, pageSize int, status string, isTest bool) ([]*model.Broadcast, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	broadcasts, total, err := s.BroadcastRepo.List(offset, pageSize, status, isTest)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return broadcasts, pagination, nil
}

// splitChunks cuts ids into ceil(len/size) fixed-size batches.
func splitChunks(ids []int64, size int) [][]int64 {
	if size < 1 {
		size = 1
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
