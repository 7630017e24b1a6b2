package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/certificates"
)

// ReissueInput optionally corrects the student's name on the successor.
type ReissueInput struct {
	ActorID            string  `json:"actor_id"`
	UpdatedStudentName *string `json:"updated_student_name" validate:"omitempty,min=2,max=200"`
}

// ReissueResult holds both ends of the lineage after a reissue.
type ReissueResult struct {
	Old             *models.Certificate
	New             *models.Certificate
	VerificationURL string
}

type ReissuanceService struct {
	base
}

func NewReissuanceService(d Deps) *ReissuanceService {
	return &ReissuanceService{base: newBase(d, "reissuance")}
}

// Reissue supersedes a valid certificate with a new one. The predecessor is
// marked reissued before the successor is inserted so the live-signup
// uniqueness holds throughout the transaction.
func (s *ReissuanceService) Reissue(ctx context.Context, certificateID string, in ReissueInput) (res *ReissueResult, err error) {
	in.ActorID = strings.TrimSpace(in.ActorID)
	in.UpdatedStudentName = trimPtr(in.UpdatedStudentName)
	ctx, span := startSpan(ctx, "ReissuanceService.Reissue", attribute.String("certificate_id", certificateID))
	defer func() { endSpan(span, err) }()

	if err := s.checkID(certificateID); err != nil {
		return nil, err
	}
	if err := s.check(in); err != nil {
		return nil, err
	}

	now := s.clock()
	actor := models.ActorFor(in.ActorID)
	var events []*models.AuditEvent
	err = s.withIDRetry(ctx, now.Year(), nil, func(newID string) error {
		return s.db.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			certs := s.repos.Certificates(tx)
			prev, err := certs.FindByCertificateIDForUpdate(ctx, certificateID)
			if err != nil {
				return err
			}
			if prev.Status != models.StatusValid {
				return certificates.TransitionError(prev.Status, models.StatusReissued)
			}
			old, err := certs.TransitionToReissued(ctx, certificateID, now)
			if err != nil {
				return err
			}

			next := successorOf(old, in.UpdatedStudentName)
			stamp(next, newID, now, now)
			if err := certs.Insert(ctx, next); err != nil {
				return err
			}

			corrected := next.StudentName != old.StudentName
			events = []*models.AuditEvent{
				models.NewReissuedEvent(old, actor, models.ReissuedMetadata{
					NewCertificateID: next.CertificateID,
					NameCorrected:    corrected,
				}, now),
				models.NewIssuedEvent(next, actor, models.IssuedMetadata{
					Source:                   models.SourceReissue,
					SignupID:                 next.SourceSignupID,
					PredecessorCertificateID: next.PredecessorCertificateID,
					PayloadHash:              next.PayloadHash,
				}, now),
			}
			for _, ev := range events {
				if err := s.repos.Audit(tx).Append(ctx, ev); err != nil {
					return fmt.Errorf("append audit event: %w", err)
				}
			}
			res = &ReissueResult{Old: old, New: next}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	res.VerificationURL = s.VerificationURL(res.New.CertificateID)
	s.log.Info(ctx, "certificate reissued", "certificate_id", certificateID, "new_certificate_id", res.New.CertificateID)
	s.publish(ctx, events)
	if !s.artifacts.Enqueue(res.New.CertificateID) {
		s.log.Debug(ctx, "artifact rendering not scheduled", "certificate_id", res.New.CertificateID)
	}
	return res, nil
}

// successorOf copies the inherited fields of prev into a new certificate.
// Artifacts are not inherited; they show the old identifier.
func successorOf(prev *models.Certificate, name *string) *models.Certificate {
	next := &models.Certificate{
		StudentName:              prev.StudentName,
		StudentEmail:             prev.StudentEmail,
		CourseTitle:              prev.CourseTitle,
		CompletedAt:              prev.CompletedAt,
		PredecessorCertificateID: &prev.CertificateID,
	}
	if name != nil && *name != "" {
		next.StudentName = *name
	}
	if prev.CourseID != nil {
		v := *prev.CourseID
		next.CourseID = &v
	}
	if prev.SourceSignupID != nil {
		v := *prev.SourceSignupID
		next.SourceSignupID = &v
	}
	return next
}
