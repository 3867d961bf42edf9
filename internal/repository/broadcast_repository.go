package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
)

type BroadcastRepositoryInterface interface {
	Create(b *model.Broadcast) error
	Update(b *model.Broadcast) error
	GetByID(id int64) (*model.Broadcast, error)
	List(offset, limit int, status string, isTest bool) ([]*model.Broadcast, int, error)

	UpdateStatus(id int64, status model.BroadcastStatus) error
	Schedule(id int64, sendAt *time.Time) error
	ClaimForSending(id int64) error
	MarkSent(id int64) error
	SetRecipientCount(id int64, count int) error
	AddStats(id int64, successDelta, errorDelta int) error
	ListDue(now time.Time) ([]*model.Broadcast, error)
}

type BroadcastRepository struct {
	DB *sql.DB
}

const broadcastColumns = `id, title, content, media_kind, media_file_id, buttons, segment_id, filters,
		status, send_at, sent_at, recipient_count, success_count, error_count,
		created_by_admin_id, is_test, created_at, updated_at`

func (r *BroadcastRepository) Create(b *model.Broadcast) error {
	b.CreatedAt = time.Now().UTC()
	if b.Status == "" {
		b.Status = model.StatusDraft
	}
	if b.MediaKind == "" {
		b.MediaKind = model.MediaNone
	}

	buttons, err := jsonOrNull(b.Buttons)
	if err != nil {
		return fmt.Errorf("encode buttons: %w", err)
	}
	filters, err := jsonOrNull(b.Filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}

	query := `
        INSERT INTO broadcasts (title, content, media_kind, media_file_id, buttons, segment_id, filters,
                                status, send_at, created_by_admin_id, is_test, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		b.Title, b.Content, b.MediaKind, b.MediaFileID, buttons, b.SegmentID, filters,
		b.Status, b.SendAt, b.CreatedByAdminID, b.IsTest, b.CreatedAt,
	).Scan(&b.ID)
}

// Update rewrites the mutable content fields. Callers must have checked the
// broadcast is still a draft; this method does not re-read status.
func (r *BroadcastRepository) Update(b *model.Broadcast) error {
	buttons, err := jsonOrNull(b.Buttons)
	if err != nil {
		return fmt.Errorf("encode buttons: %w", err)
	}
	filters, err := jsonOrNull(b.Filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}

	query := `
        UPDATE broadcasts
        SET title=$1, content=$2, media_kind=$3, media_file_id=$4, buttons=$5,
            segment_id=$6, filters=$7, send_at=$8, updated_at=NOW()
        WHERE id=$9
    `
	_, err = r.DB.Exec(query,
		b.Title, b.Content, b.MediaKind, b.MediaFileID, buttons,
		b.SegmentID, filters, b.SendAt, b.ID,
	)
	return err
}

func (r *BroadcastRepository) GetByID(id int64) (*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id=$1`
	b, err := scanBroadcast(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewBroadcastNotFound(id)
		}
		return nil, err
	}
	return b, nil
}

func (r *BroadcastRepository) List(offset, limit int, status string, isTest bool) ([]*model.Broadcast, int, error) {
	broadcasts := []*model.Broadcast{}
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE is_test=$1`
	args := []interface{}{isTest}
	argPos := 2

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, 0, err
		}
		broadcasts = append(broadcasts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM broadcasts WHERE is_test=$1`
	countArgs := []interface{}{isTest}
	if status != "" {
		countQuery += " AND status=$2"
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return broadcasts, total, nil
}

func (r *BroadcastRepository) UpdateStatus(id int64, status model.BroadcastStatus) error {
	query := `UPDATE broadcasts SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, status, id)
	return err
}

// Schedule moves the broadcast to scheduled and records its due time. The
// conditional WHERE re-checks the status at write time, so a broadcast that
// went sending between the caller's read and this update cannot be flipped
// back and dispatched twice.
func (r *BroadcastRepository) Schedule(id int64, sendAt *time.Time) error {
	query := `
        UPDATE broadcasts SET status=$1, send_at=$2, updated_at=NOW()
        WHERE id=$3 AND status IN ($4, $5, $6)
    `
	res, err := r.DB.Exec(query, model.StatusScheduled, sendAt, id,
		model.StatusDraft, model.StatusSent, model.StatusError)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		current, err := r.GetByID(id)
		if err != nil {
			return err
		}
		return appErrors.NewInvalidTransition(string(current.Status), string(model.StatusScheduled))
	}
	return nil
}

// ClaimForSending is the atomic scheduled->sending transition. The
// conditional WHERE makes concurrent schedulers race safely: whoever gets
// the row owns this run, everyone else gets ErrAlreadyClaimed. Counters are
// zeroed here so each sending episode tallies on its own.
func (r *BroadcastRepository) ClaimForSending(id int64) error {
	query := `
        UPDATE broadcasts
        SET status=$1, recipient_count=0, success_count=0, error_count=0, updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
	res, err := r.DB.Exec(query, model.StatusSending, id, model.StatusScheduled)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewAlreadyClaimed(id)
	}
	return nil
}

// MarkSent records hand-off to the chunk queue. Delivery counters continue
// to move after this point.
func (r *BroadcastRepository) MarkSent(id int64) error {
	query := `UPDATE broadcasts SET status=$1, sent_at=NOW(), updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, model.StatusSent, id)
	return err
}

func (r *BroadcastRepository) SetRecipientCount(id int64, count int) error {
	query := `UPDATE broadcasts SET recipient_count=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, count, id)
	return err
}

// AddStats applies both deltas in one statement so concurrent chunk workers
// never lose an increment.
func (r *BroadcastRepository) AddStats(id int64, successDelta, errorDelta int) error {
	query := `
        UPDATE broadcasts
        SET success_count=success_count+$1, error_count=error_count+$2, updated_at=NOW()
        WHERE id=$3
    `
	_, err := r.DB.Exec(query, successDelta, errorDelta, id)
	return err
}

// ListDue returns scheduled broadcasts whose send_at has passed. Broadcasts
// without a send_at are send-now only and never picked up here.
func (r *BroadcastRepository) ListDue(now time.Time) ([]*model.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + `
        FROM broadcasts
        WHERE status=$1 AND send_at IS NOT NULL AND send_at <= $2
        ORDER BY send_at ASC`

	rows, err := r.DB.Query(query, model.StatusScheduled, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Broadcast{}
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, b)
	}
	return due, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBroadcast(row rowScanner) (*model.Broadcast, error) {
	var (
		b           model.Broadcast
		mediaFileID sql.NullString
		buttons     []byte
		segmentID   sql.NullInt64
		filters     []byte
		sendAt      sql.NullTime
		sentAt      sql.NullTime
		updatedAt   sql.NullTime
	)

	err := row.Scan(
		&b.ID, &b.Title, &b.Content, &b.MediaKind, &mediaFileID, &buttons, &segmentID, &filters,
		&b.Status, &sendAt, &sentAt, &b.RecipientCount, &b.SuccessCount, &b.ErrorCount,
		&b.CreatedByAdminID, &b.IsTest, &b.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if mediaFileID.Valid {
		b.MediaFileID = &mediaFileID.String
	}
	if segmentID.Valid {
		b.SegmentID = &segmentID.Int64
	}
	if sendAt.Valid {
		t := sendAt.Time
		b.SendAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		b.SentAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		b.UpdatedAt = &t
	}
	if len(buttons) > 0 {
		if err := json.Unmarshal(buttons, &b.Buttons); err != nil {
			return nil, fmt.Errorf("decode buttons: %w", err)
		}
	}
	if len(filters) > 0 {
		var def model.Definition
		if err := json.Unmarshal(filters, &def); err != nil {
			return nil, fmt.Errorf("decode filters: %w", err)
		}
		b.Filters = &def
	}

	return &b, nil
}

func jsonOrNull(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case model.ButtonRows:
		if len(val) == 0 {
			return nil, nil
		}
	case *model.Definition:
		if val == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

var _ BroadcastRepositoryInterface = (*BroadcastRepository)(nil)
