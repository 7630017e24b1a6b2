package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/i18n"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// ClientInfo describes the anonymous caller of a verification.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// VerificationResult is the public view of a certificate. It never carries
// the student's email.
type VerificationResult struct {
	CertificateID     string
	Status            models.CertificateStatus
	StudentName       string
	CourseTitle       string
	IssuedAt          time.Time
	CompletedAt       time.Time
	RevokedAt         *time.Time
	RevokedReason     *string
	PayloadHash       string
	IntegrityVerified bool
	SupersededBy      *string
	MessageKey        string
}

type VerificationService struct {
	base
}

func NewVerificationService(d Deps) *VerificationService {
	return &VerificationService{base: newBase(d, "verification")}
}

// Verify looks up a certificate for a public verifier. The lookup counter
// and the audit event are recorded best-effort.
func (s *VerificationService) Verify(ctx context.Context, certificateID string, client ClientInfo) (res *VerificationResult, err error) {
	ctx, span := startSpan(ctx, "VerificationService.Verify", attribute.String("certificate_id", certificateID))
	defer func() { endSpan(span, err) }()

	if err := s.checkID(certificateID); err != nil {
		return nil, err
	}

	c, err := s.repos.Certificates(s.db).FindByCertificateID(ctx, certificateID)
	if err != nil {
		return nil, err
	}

	intact := c.IntegrityVerified()
	if !intact {
		s.log.Error(ctx, "payload hash mismatch", "certificate_id", c.CertificateID, "stored_hash", c.PayloadHash)
	}
	span.SetAttributes(attribute.Bool("integrity_verified", intact))

	res = &VerificationResult{
		CertificateID:     c.CertificateID,
		Status:            c.Status,
		StudentName:       c.StudentName,
		CourseTitle:       c.CourseTitle,
		IssuedAt:          c.IssuedAt,
		CompletedAt:       c.CompletedAt,
		PayloadHash:       c.PayloadHash,
		IntegrityVerified: intact,
	}
	switch c.Status {
	case models.StatusRevoked:
		res.RevokedAt = c.RevokedAt
		res.RevokedReason = c.RevokedReason
		res.MessageKey = i18n.KeyVerifyRevoked
	case models.StatusReissued:
		res.MessageKey = i18n.KeyVerifyReissued
		next, err := s.repos.Certificates(s.db).FindSuccessor(ctx, c.CertificateID)
		switch {
		case err == nil:
			res.SupersededBy = &next.CertificateID
		case !errors.Is(err, common.ErrorNotFound):
			s.log.Warn(ctx, "successor lookup failed", "certificate_id", c.CertificateID, "error", err)
		}
	default:
		res.MessageKey = i18n.KeyVerifyValid
	}

	ev, err := s.record(ctx, c, client, intact)
	if err != nil {
		s.log.Warn(ctx, "verification audit not recorded", "certificate_id", c.CertificateID, "error", err)
	} else {
		s.publish(ctx, []*models.AuditEvent{ev})
	}
	return res, nil
}

func (s *VerificationService) record(ctx context.Context, c *models.Certificate, client ClientInfo, intact bool) (*models.AuditEvent, error) {
	ev := models.NewVerifiedEvent(c, models.VerifiedMetadata{
		IPAddress:         client.IP,
		UserAgent:         client.UserAgent,
		IntegrityVerified: intact,
	}, s.clock())
	err := s.db.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repos.Certificates(tx).IncrementVerificationCount(ctx, c.CertificateID); err != nil {
			return fmt.Errorf("increment verification count: %w", err)
		}
		return s.repos.Audit(tx).Append(ctx, ev)
	})
	return ev, err
}

// Get returns the full record of a certificate, email and lineage included.
func (s *VerificationService) Get(ctx context.Context, certificateID string) (*models.Certificate, error) {
	if err := s.checkID(certificateID); err != nil {
		return nil, err
	}
	return s.repos.Certificates(s.db).FindByCertificateID(ctx, certificateID)
}

// AuditTrail returns the audit events of a certificate, oldest first.
func (s *VerificationService) AuditTrail(ctx context.Context, certificateID string) ([]*models.AuditEvent, error) {
	if err := s.checkID(certificateID); err != nil {
		return nil, err
	}
	if _, err := s.repos.Certificates(s.db).FindByCertificateID(ctx, certificateID); err != nil {
		return nil, err
	}
	return s.repos.Audit(s.db).ListByCertificateID(ctx, certificateID)
}
