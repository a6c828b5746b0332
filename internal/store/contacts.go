package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/dawgdevv/bitespeed/internal/database"
	"github.com/dawgdevv/bitespeed/internal/models"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// InsertContact creates a contact and returns its id. created_at and
// updated_at are both set to the store clock.
func (s *Store) InsertContact(ctx context.Context, email, phoneNumber *string, linkedID *int64, precedence models.LinkPrecedence) (int64, error) {
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	now := s.timestamp()
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, query, phoneNumber, email, linkedID, string(precedence), now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert contact: %w", err)
	}
	return id, nil
}

// FetchByEmailOrPhone returns contacts whose email or phone number equals
// the given non-nil values, oldest first.
func (s *Store) FetchByEmailOrPhone(ctx context.Context, email, phoneNumber *string) ([]*models.Contact, error) {
	var where []string
	var args []any
	if email != nil {
		args = append(args, *email)
		where = append(where, "email = $"+strconv.Itoa(len(args)))
	}
	if phoneNumber != nil {
		args = append(args, *phoneNumber)
		where = append(where, "phone_number = $"+strconv.Itoa(len(args)))
	}
	if len(where) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE ` + strings.Join(where, " OR ") + `
			  ORDER BY created_at ASC, id ASC`
	contacts, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts by email or phone: %w", err)
	}
	return contacts, nil
}

// FetchByIDsOrLinkedIDs returns every contact whose id is in ids or whose
// linked_id is in ids, oldest first.
func (s *Store) FetchByIDsOrLinkedIDs(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idFilter, args := s.idSet("id", ids, 1)
	linkedFilter, _ := s.idSet("linked_id", ids, 1)

	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE ` + idFilter + ` OR ` + linkedFilter + `
			  ORDER BY created_at ASC, id ASC`
	contacts, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch contacts by ids: %w", err)
	}
	return contacts, nil
}

// FetchCluster returns the primary and every contact linked to it, oldest first.
func (s *Store) FetchCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE id = $1 OR linked_id = $1
			  ORDER BY created_at ASC, id ASC`
	contacts, err := s.queryContacts(ctx, query, primaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cluster %d: %w", primaryID, err)
	}
	return contacts, nil
}

// UpdatePrecedenceAndLink sets link_precedence and linked_id on every
// contact in ids and returns the number of rows changed.
func (s *Store) UpdatePrecedenceAndLink(ctx context.Context, ids []int64, precedence models.LinkPrecedence, linkedID *int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	filter, filterArgs := s.idSet("id", ids, 4)
	query := `UPDATE contacts SET link_precedence = $1, linked_id = $2, updated_at = $3 WHERE ` + filter

	args := append([]any{string(precedence), linkedID, s.timestamp()}, filterArgs...)
	n, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update contact precedence: %w", err)
	}
	return n, nil
}

// RelinkSecondaries points every contact linked to one of oldLinkedIDs at
// newLinkedID and returns the number of rows changed.
func (s *Store) RelinkSecondaries(ctx context.Context, oldLinkedIDs []int64, newLinkedID int64) (int64, error) {
	if len(oldLinkedIDs) == 0 {
		return 0, nil
	}
	filter, filterArgs := s.idSet("linked_id", oldLinkedIDs, 3)
	query := `UPDATE contacts SET linked_id = $1, updated_at = $2 WHERE ` + filter

	args := append([]any{newLinkedID, s.timestamp()}, filterArgs...)
	n, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to relink secondaries: %w", err)
	}
	return n, nil
}

// ListContacts returns every contact ordered by id.
func (s *Store) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts ORDER BY id ASC`
	contacts, err := s.queryContacts(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// idSet builds a parameterized membership filter on column starting at
// placeholder $first. Postgres gets a single array parameter; sqlite gets
// one placeholder per id.
func (s *Store) idSet(column string, ids []int64, first int) (string, []any) {
	if s.dialect == database.DialectPostgres {
		return column + " = ANY($" + strconv.Itoa(first) + ")", []any{pq.Array(ids)}
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(first+i)
		args[i] = id
	}
	return column + " IN (" + strings.Join(placeholders, ", ") + ")", args
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// queryContacts executes a query and returns contacts
func (s *Store) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c := &models.Contact{}
		var phone, email sql.NullString
		var linkedID sql.NullInt64
		var precedence string
		var deletedAt sql.NullTime

		err := rows.Scan(&c.ID, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
		if err != nil {
			return nil, err
		}

		// lib/pq returns TIMESTAMPTZ in the session time zone.
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		c.LinkPrecedence = models.LinkPrecedence(precedence)
		if phone.Valid {
			c.PhoneNumber = &phone.String
		}
		if email.Valid {
			c.Email = &email.String
		}
		if linkedID.Valid {
			c.LinkedID = &linkedID.Int64
		}
		if deletedAt.Valid {
			t := deletedAt.Time.UTC()
			c.DeletedAt = &t
		}

		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}
