// Package certificates provides the certificate store: PostgreSQL-backed
// persistence that enforces the certificate state machine.
package certificates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// Constraint names from the schema migration.
const (
	ConstraintCertificateID = "certificates_certificate_id_key"
	ConstraintLiveSignup    = "certificates_live_signup_uq"
)

const columns = `id, certificate_id, status, student_name, student_email, course_id, course_title,
	completed_at, issued_at, payload_hash, pdf_url, jpg_url, revoked_at, revoked_reason,
	source_signup_id, predecessor_certificate_id, verification_count, created_at, updated_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row scanner) (*models.Certificate, error) {
	var c models.Certificate
	err := row.Scan(
		&c.ID, &c.CertificateID, &c.Status, &c.StudentName, &c.StudentEmail, &c.CourseID, &c.CourseTitle,
		&c.CompletedAt, &c.IssuedAt, &c.PayloadHash, &c.PDFURL, &c.JPGURL, &c.RevokedAt, &c.RevokedReason,
		&c.SourceSignupID, &c.PredecessorCertificateID, &c.VerificationCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*models.Certificate, error) {
	return scanCertificate(r.db.QueryRowContext(ctx, query, args...))
}

func (r *PostgresRepository) FindByCertificateID(ctx context.Context, certificateID string) (*models.Certificate, error) {
	return r.findOne(ctx, `SELECT `+columns+` FROM certificates WHERE certificate_id = $1`, certificateID)
}

func (r *PostgresRepository) FindByCertificateIDForUpdate(ctx context.Context, certificateID string) (*models.Certificate, error) {
	return r.findOne(ctx, `SELECT `+columns+` FROM certificates WHERE certificate_id = $1 FOR UPDATE`, certificateID)
}

func (r *PostgresRepository) FindLiveBySignupID(ctx context.Context, signupID string) (*models.Certificate, error) {
	return r.findOne(ctx,
		`SELECT `+columns+` FROM certificates WHERE source_signup_id = $1 AND status = 'valid'`, signupID)
}

func (r *PostgresRepository) FindSuccessor(ctx context.Context, certificateID string) (*models.Certificate, error) {
	return r.findOne(ctx, `SELECT `+columns+` FROM certificates WHERE predecessor_certificate_id = $1
		ORDER BY created_at DESC LIMIT 1`, certificateID)
}

// Insert stores a new certificate. Unique violations are translated by
// constraint name so callers can retry or re-fetch.
func (r *PostgresRepository) Insert(ctx context.Context, c *models.Certificate) error {
	query := `
		INSERT INTO certificates (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.CertificateID, string(c.Status), c.StudentName, c.StudentEmail, c.CourseID, c.CourseTitle,
		c.CompletedAt, c.IssuedAt, c.PayloadHash, c.PDFURL, c.JPGURL, c.RevokedAt, c.RevokedReason,
		c.SourceSignupID, c.PredecessorCertificateID, c.VerificationCount, c.CreatedAt, c.UpdatedAt,
	)
	if err == nil {
		return nil
	}
	if constraint, ok := dbx.UniqueViolation(err); ok {
		switch constraint {
		case ConstraintCertificateID:
			return common.ErrCertificateIDTaken
		case ConstraintLiveSignup:
			return common.ErrLiveCertificateExists
		default:
			return fmt.Errorf("%w: %s", common.ErrorConflict, constraint)
		}
	}
	return fmt.Errorf("db error: %w", err)
}

// TransitionToRevoked moves a valid certificate to revoked. A certificate
// that is already revoked yields common.ErrAlreadyRevoked; a reissued one
// yields common.ErrInvalidState.
func (r *PostgresRepository) TransitionToRevoked(ctx context.Context, certificateID, reason string, at time.Time) (*models.Certificate, error) {
	c, err := r.findOne(ctx, `
		UPDATE certificates
		SET status = 'revoked', revoked_at = $2, revoked_reason = $3, updated_at = $2
		WHERE certificate_id = $1 AND status = 'valid'
		RETURNING `+columns, certificateID, at, reason)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, r.explainNoTransition(ctx, certificateID, models.StatusRevoked)
	}
	return c, err
}

// TransitionToReissued moves a valid certificate to reissued.
func (r *PostgresRepository) TransitionToReissued(ctx context.Context, certificateID string, at time.Time) (*models.Certificate, error) {
	c, err := r.findOne(ctx, `
		UPDATE certificates
		SET status = 'reissued', updated_at = $2
		WHERE certificate_id = $1 AND status = 'valid'
		RETURNING `+columns, certificateID, at)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, r.explainNoTransition(ctx, certificateID, models.StatusReissued)
	}
	return c, err
}

// explainNoTransition tells apart a missing certificate from one in the
// wrong state after a conditional update matched no row.
func (r *PostgresRepository) explainNoTransition(ctx context.Context, certificateID string, target models.CertificateStatus) error {
	var status models.CertificateStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM certificates WHERE certificate_id = $1`, certificateID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return TransitionError(status, target)
}

// TransitionError returns the error for moving a certificate in status
// current to target when current is not valid.
func TransitionError(current, target models.CertificateStatus) error {
	if current == models.StatusRevoked && target == models.StatusRevoked {
		return common.ErrAlreadyRevoked
	}
	return fmt.Errorf("%w: cannot move %s certificate to %s", common.ErrInvalidState, current, target)
}

func (r *PostgresRepository) UpdateFiles(ctx context.Context, certificateID string, files models.FileURLs, at time.Time) (*models.Certificate, error) {
	return r.findOne(ctx, `
		UPDATE certificates
		SET pdf_url = COALESCE($2, pdf_url), jpg_url = COALESCE($3, jpg_url), updated_at = $4
		WHERE certificate_id = $1
		RETURNING `+columns, certificateID, files.PDFURL, files.JPGURL, at)
}

func (r *PostgresRepository) IncrementVerificationCount(ctx context.Context, certificateID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE certificates SET verification_count = verification_count + 1
		WHERE certificate_id = $1
		RETURNING verification_count`, certificateID).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
