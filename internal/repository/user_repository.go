package repository

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/primoloyalty/broadcast-service/internal/model"
)

type UserRepositoryInterface interface {
	ResolveRecipients(def *model.Definition, isTest bool) ([]model.Recipient, error)
	CountRecipients(def *model.Definition, isTest bool) (int, error)
	GetRecipientsByIDs(ids []int64) ([]model.Recipient, error)
}

// UserRepository resolves targeting rules into concrete recipient lists.
// All reads; the resolver never mutates user data.
type UserRepository struct {
	DB *sql.DB
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const recipientColumns = "id, telegram_id, username, first_name, last_name"

// ResolveRecipients returns active users matching the definition, within
// the broadcast's test/production partition. Results are ordered by id so
// repeated resolutions over unchanged data are identical.
func (r *UserRepository) ResolveRecipients(def *model.Definition, isTest bool) ([]model.Recipient, error) {
	query := psql.Select(recipientColumns).
		From("users").
		Where(sq.Eq{"status": model.UserStatusActive, "is_test": isTest})
	query = applyDefinition(query, def)
	query = query.OrderBy("id ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	seen := map[int64]bool{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		if seen[rec.UserID] {
			continue
		}
		seen[rec.UserID] = true
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// CountRecipients mirrors ResolveRecipients for audience previews.
func (r *UserRepository) CountRecipients(def *model.Definition, isTest bool) (int, error) {
	query := psql.Select("COUNT(*)").
		From("users").
		Where(sq.Eq{"status": model.UserStatusActive, "is_test": isTest})
	query = applyDefinition(query, def)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.DB.QueryRow(sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetRecipientsByIDs loads the delivery projection for a chunk's user ids.
func (r *UserRepository) GetRecipientsByIDs(ids []int64) ([]model.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + recipientColumns + ` FROM users WHERE id = ANY($1) ORDER BY id ASC`
	rows, err := r.DB.Query(query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// applyDefinition translates the closed predicate set into SQL. Tag
// membership uses array overlap: a user matches when it carries any of the
// listed tags.
func applyDefinition(query sq.SelectBuilder, def *model.Definition) sq.SelectBuilder {
	if def == nil {
		return query
	}
	if def.Status != nil {
		query = query.Where(sq.Eq{"status": *def.Status})
	}
	if def.IsSubscribed != nil {
		query = query.Where(sq.Eq{"is_subscribed": *def.IsSubscribed})
	}
	if len(def.Tags) > 0 {
		query = query.Where(sq.Expr("tags && ?", pq.Array(def.Tags)))
	}
	if def.Source != nil {
		query = query.Where(sq.Eq{"source": *def.Source})
	}
	if def.Gender != nil {
		query = query.Where(sq.Eq{"gender": *def.Gender})
	}
	if def.BirthdayMonth != nil {
		query = query.Where(sq.Expr("EXTRACT(MONTH FROM birthday) = ?", *def.BirthdayMonth))
	}
	if def.CreatedAfter != nil {
		query = query.Where(sq.GtOrEq{"created_at": *def.CreatedAfter})
	}
	if def.CreatedBefore != nil {
		query = query.Where(sq.LtOrEq{"created_at": *def.CreatedBefore})
	}
	return query
}

func scanRecipient(row rowScanner) (model.Recipient, error) {
	var (
		rec       model.Recipient
		username  sql.NullString
		firstName sql.NullString
		lastName  sql.NullString
	)
	if err := row.Scan(&rec.UserID, &rec.TelegramID, &username, &firstName, &lastName); err != nil {
		return model.Recipient{}, err
	}
	rec.Username = username.String
	rec.FirstName = firstName.String
	rec.LastName = lastName.String
	return rec, nil
}

var _ UserRepositoryInterface = (*UserRepository)(nil)
