// Package signups provides read access to the course_signups read model,
// the enrollment collaborator's attestation of course completion.
package signups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Signup, error) {
	query := `
		SELECT id, full_name, email, course_id, course_title, completed_at, created_at
		FROM course_signups WHERE id = $1
	`
	var s models.Signup
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.FullName, &s.Email, &s.CourseID, &s.CourseTitle, &s.CompletedAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.Signup) error {
	query := `
		INSERT INTO course_signups (id, full_name, email, course_id, course_title, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		s.ID, s.FullName, s.Email, s.CourseID, s.CourseTitle, s.CompletedAt, s.CreatedAt,
	); err != nil {
		if _, ok := dbx.UniqueViolation(err); ok {
			return common.ErrorConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
