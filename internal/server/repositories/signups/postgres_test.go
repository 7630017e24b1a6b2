package signups

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

const signupID = "5b0e5c43-8d1c-4b9e-9d3f-3c7d2a6e9f10"

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestFindByID(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := time.Date(2025, 1, 20, 15, 0, 0, 0, time.UTC)
	cols := []string{"id", "full_name", "email", "course_id", "course_title", "completed_at", "created_at"}

	tests := []struct {
		name          string
		rows          *sqlmock.Rows
		err           error
		wantErr       error
		wantCompleted bool
	}{
		{
			name:          "completed",
			rows:          sqlmock.NewRows(cols).AddRow(signupID, "Ana Gómez", "ana@example.com", "auto-101", "Automation 101", completed, created),
			wantCompleted: true,
		},
		{
			name: "not completed",
			rows: sqlmock.NewRows(cols).AddRow(signupID, "Ana Gómez", "ana@example.com", "auto-101", "Automation 101", nil, created),
		},
		{name: "missing", err: sql.ErrNoRows, wantErr: common.ErrorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			q := mock.ExpectQuery(`FROM course_signups WHERE id = \$1`).WithArgs(signupID)
			if tt.err != nil {
				q.WillReturnError(tt.err)
			} else {
				q.WillReturnRows(tt.rows)
			}

			s, err := repo.FindByID(context.Background(), signupID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCompleted, s.Completed())
			assert.Equal(t, "Automation 101", s.CourseTitle)
		})
	}
}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	s := &models.Signup{ID: signupID, FullName: "Ana", Email: "ana@example.com", CourseID: "c", CourseTitle: "T", CreatedAt: time.Now()}

	mock.ExpectExec(`INSERT INTO course_signups`).
		WithArgs(s.ID, s.FullName, s.Email, s.CourseID, s.CourseTitle, nil, s.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), s))

	mock.ExpectExec(`INSERT INTO course_signups`).WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "course_signups_pkey"})
	assert.ErrorIs(t, repo.Create(context.Background(), s), common.ErrorConflict)

	mock.ExpectExec(`INSERT INTO course_signups`).WillReturnError(errors.New("boom"))
	err := repo.Create(context.Background(), s)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
