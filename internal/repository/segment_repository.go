package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/primoloyalty/broadcast-service/internal/errors"
	"github.com/primoloyalty/broadcast-service/internal/model"
)

type SegmentRepositoryInterface interface {
	Create(s *model.Segment) error
	Update(s *model.Segment) error
	GetByID(id int64) (*model.Segment, error)
	List(isTest bool) ([]*model.Segment, error)
	Delete(id int64) error
}

type SegmentRepository struct {
	DB *sql.DB
}

func (r *SegmentRepository) Create(s *model.Segment) error {
	s.CreatedAt = time.Now().UTC()
	def, err := json.Marshal(s.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}

	query := `
        INSERT INTO segments (name, description, definition, is_active, is_test, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	return r.DB.QueryRow(query, s.Name, s.Description, def, s.IsActive, s.IsTest, s.CreatedAt).Scan(&s.ID)
}

func (r *SegmentRepository) Update(s *model.Segment) error {
	def, err := json.Marshal(s.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}

	query := `
        UPDATE segments
        SET name=$1, description=$2, definition=$3, is_active=$4, updated_at=NOW()
        WHERE id=$5
    `
	_, err = r.DB.Exec(query, s.Name, s.Description, def, s.IsActive, s.ID)
	return err
}

func (r *SegmentRepository) GetByID(id int64) (*model.Segment, error) {
	query := `
        SELECT id, name, description, definition, is_active, is_test, created_at, updated_at
        FROM segments WHERE id=$1
    `
	s, err := scanSegment(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewSegmentNotFound(id)
		}
		return nil, err
	}
	return s, nil
}

func (r *SegmentRepository) List(isTest bool) ([]*model.Segment, error) {
	query := `
        SELECT id, name, description, definition, is_active, is_test, created_at, updated_at
        FROM segments WHERE is_test=$1
        ORDER BY created_at DESC
    `
	rows, err := r.DB.Query(query, isTest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segments := []*model.Segment{}
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}

func (r *SegmentRepository) Delete(id int64) error {
	_, err := r.DB.Exec(`DELETE FROM segments WHERE id=$1`, id)
	return err
}

func scanSegment(row rowScanner) (*model.Segment, error) {
	var (
		s           model.Segment
		description sql.NullString
		def         []byte
		updatedAt   sql.NullTime
	)
	err := row.Scan(&s.ID, &s.Name, &description, &def, &s.IsActive, &s.IsTest, &s.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		s.Description = description.String
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		s.UpdatedAt = &t
	}
	if len(def) > 0 {
		if err := json.Unmarshal(def, &s.Definition); err != nil {
			return nil, fmt.Errorf("decode definition: %w", err)
		}
	}
	return &s, nil
}

var _ SegmentRepositoryInterface = (*SegmentRepository)(nil)
