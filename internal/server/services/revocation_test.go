package services

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/repomanager"
)

const testCertID = "CERT-2025-AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE"

func TestRevoke(t *testing.T) {
	e := newEnv(t)
	c := e.issue(t)
	svc := NewRevocationService(e.deps)
	ctx := context.Background()

	got, err := svc.Revoke(ctx, c.CertificateID, RevokeInput{Reason: "  Duplicate enrollment record  ", ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, got.Status)
	assert.Equal(t, "Duplicate enrollment record", *got.RevokedReason)
	assert.Equal(t, fixedNow, *got.RevokedAt)
	assert.Equal(t, c.PayloadHash, got.PayloadHash, "revocation does not touch the payload")

	events := e.trail(t, c.CertificateID)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventRevoked, events[1].EventType)
	md := events[1].Metadata.(models.RevokedMetadata)
	assert.Equal(t, "Duplicate enrollment record", md.Reason)
	assert.Equal(t, "admin-1", *md.ActorID)
	assert.Equal(t, []models.EventType{models.EventIssued, models.EventRevoked}, e.pub.types())

	_, err = svc.Revoke(ctx, c.CertificateID, RevokeInput{Reason: "Duplicate enrollment record"})
	assert.ErrorIs(t, err, common.ErrAlreadyRevoked)
	assert.Len(t, e.trail(t, c.CertificateID), 2)
}

func TestRevoke_Errors(t *testing.T) {
	e := newEnv(t)
	svc := NewRevocationService(e.deps)
	ctx := context.Background()
	c := e.issue(t)

	_, err := svc.Revoke(ctx, "bogus", RevokeInput{Reason: "Duplicate enrollment record"})
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = svc.Revoke(ctx, c.CertificateID, RevokeInput{Reason: "   too short   "})
	require.ErrorIs(t, err, common.ErrorValidation)
	assert.Equal(t, []string{"reason"}, validationFields(err))

	_, err = svc.Revoke(ctx, c.CertificateID, RevokeInput{Reason: strings.Repeat("x", 1001)})
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = svc.Revoke(ctx, testCertID, RevokeInput{Reason: "Duplicate enrollment record"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = NewReissuanceService(e.deps).Reissue(ctx, c.CertificateID, ReissueInput{})
	require.NoError(t, err)
	_, err = svc.Revoke(ctx, c.CertificateID, RevokeInput{Reason: "Duplicate enrollment record"})
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.False(t, errors.Is(err, common.ErrAlreadyRevoked))
}

func TestRevoke_AuditFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	c := e.issue(t)
	deps := e.deps
	deps.Repos = &overrideManager{
		RepositoryManager: e.repos,
		audit:             func(r audit.Repository) audit.Repository { return failingAudit{r} },
	}

	_, err := NewRevocationService(deps).Revoke(context.Background(), c.CertificateID, RevokeInput{Reason: "Duplicate enrollment record"})
	require.Error(t, err)
	assert.Equal(t, models.StatusValid, e.find(t, c.CertificateID).Status)
}

func newSQLDeps(t *testing.T) (Deps, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Deps{
		DB:    dbx.NewDatabase(db, nil),
		Repos: repomanager.NewPostgresRepositoryManager(),
		Now:   func() time.Time { return fixedNow },
	}, mock
}

func TestRevoke_Postgres_AlreadyRevokedRollsBack(t *testing.T) {
	deps, mock := newSQLDeps(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE certificates")).
		WithArgs(testCertID, fixedNow, "Duplicate enrollment record").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM certificates")).
		WithArgs(testCertID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("revoked"))
	mock.ExpectRollback()

	_, err := NewRevocationService(deps).Revoke(context.Background(), testCertID, RevokeInput{Reason: "Duplicate enrollment record"})
	assert.ErrorIs(t, err, common.ErrAlreadyRevoked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevoke_Postgres_Commits(t *testing.T) {
	deps, mock := newSQLDeps(t)
	issued := fixedNow.Add(-time.Hour)
	reason := "Duplicate enrollment record"

	cols := []string{"id", "certificate_id", "status", "student_name", "student_email", "course_id", "course_title",
		"completed_at", "issued_at", "payload_hash", "pdf_url", "jpg_url", "revoked_at", "revoked_reason",
		"source_signup_id", "predecessor_certificate_id", "verification_count", "created_at", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE certificates")).
		WithArgs(testCertID, fixedNow, reason).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"3f1c1d7e-0000-4000-8000-000000000001", testCertID, "revoked", "Ana", "ana@example.com", nil, "Go",
			issued, issued, "hash", nil, nil, fixedNow, reason,
			nil, nil, int64(0), issued, fixedNow,
		))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO certificate_audit_events")).
		WithArgs("3f1c1d7e-0000-4000-8000-000000000001", testCertID, "revoked", "system", nil,
			`{"reason":"Duplicate enrollment record"}`, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	c, err := NewRevocationService(deps).Revoke(context.Background(), testCertID, RevokeInput{Reason: reason})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, c.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
