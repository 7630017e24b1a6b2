package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/payload"
)

// IssueFromSignupInput requests a certificate for a completed enrollment.
type IssueFromSignupInput struct {
	CourseSignupID string `json:"course_signup_id" validate:"required,uuid"`
	ActorID        string `json:"actor_id"`
}

// IssueManualInput describes a certificate issued outside the enrollment
// flow.
type IssueManualInput struct {
	StudentFullName string   `json:"student_full_name" validate:"required,min=2,max=200"`
	StudentEmail    string   `json:"student_email" validate:"required,email"`
	CourseTitle     string   `json:"course_title" validate:"required,min=2,max=300"`
	CompletedAt     string   `json:"completed_at" validate:"required"`
	CourseID        *string  `json:"course_id"`
	IssuedAt        *string  `json:"issued_at"`
	ActorEmail      string   `json:"actor_email" validate:"omitempty,email"`
	Segments        []string `json:"segments" validate:"max=5"`
	PDFURL          *string  `json:"pdf_url" validate:"omitempty,http_url"`
	JPGURL          *string  `json:"jpg_url" validate:"omitempty,http_url"`

	// ActorID is the authenticated caller, used when ActorEmail is empty.
	ActorID string `json:"-"`
}

// IssueResult is returned by both issuance paths.
type IssueResult struct {
	Certificate     *models.Certificate
	VerificationURL string
	// AlreadyIssued is set when an existing live certificate was returned.
	AlreadyIssued bool
}

type IssuanceService struct {
	base
}

func NewIssuanceService(d Deps) *IssuanceService {
	return &IssuanceService{base: newBase(d, "issuance")}
}

// IssueFromSignup issues the certificate of a completed enrollment. Repeated
// calls for the same signup return the live certificate.
func (s *IssuanceService) IssueFromSignup(ctx context.Context, in IssueFromSignupInput) (res *IssueResult, err error) {
	in.CourseSignupID = strings.TrimSpace(in.CourseSignupID)
	in.ActorID = strings.TrimSpace(in.ActorID)
	ctx, span := startSpan(ctx, "IssuanceService.IssueFromSignup", attribute.String("signup_id", in.CourseSignupID))
	defer func() { endSpan(span, err) }()

	if err := s.check(in); err != nil {
		return nil, err
	}

	signup, err := s.repos.Signups(s.db).FindByID(ctx, in.CourseSignupID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrSignupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find signup: %w", err)
	}
	if !signup.Completed() {
		return nil, common.ErrNotCompleted
	}

	if live, err := s.liveFor(ctx, signup.ID); err != nil || live != nil {
		return live, err
	}

	now := s.clock()
	c := &models.Certificate{
		StudentName:    strings.TrimSpace(signup.FullName),
		StudentEmail:   strings.TrimSpace(signup.Email),
		CourseTitle:    strings.TrimSpace(signup.CourseTitle),
		CompletedAt:    dateOnly(*signup.CompletedAt),
		SourceSignupID: &signup.ID,
	}
	if signup.CourseID != "" {
		courseID := signup.CourseID
		c.CourseID = &courseID
	}

	var events []*models.AuditEvent
	err = s.withIDRetry(ctx, now.Year(), nil, func(certificateID string) error {
		stamp(c, certificateID, now, now)
		ev := models.NewIssuedEvent(c, models.ActorFor(in.ActorID), models.IssuedMetadata{
			Source:      models.SourceSignup,
			SignupID:    &signup.ID,
			PayloadHash: c.PayloadHash,
		}, now)
		events = []*models.AuditEvent{ev}
		return s.insertWithEvents(ctx, c, events)
	})
	if errors.Is(err, common.ErrLiveCertificateExists) {
		s.log.Info(ctx, "concurrent issuance detected, returning live certificate", "signup_id", signup.ID)
		live, ferr := s.liveFor(ctx, signup.ID)
		if ferr != nil {
			return nil, ferr
		}
		if live != nil {
			return live, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.afterIssue(ctx, c, events, true)
	return &IssueResult{Certificate: c, VerificationURL: s.VerificationURL(c.CertificateID)}, nil
}

// IssueManual issues a certificate from caller-supplied student and course
// data. Pinned segments fix parts of the identifier.
func (s *IssuanceService) IssueManual(ctx context.Context, in IssueManualInput) (res *IssueResult, err error) {
	in.StudentFullName = strings.TrimSpace(in.StudentFullName)
	in.StudentEmail = strings.TrimSpace(in.StudentEmail)
	in.CourseTitle = strings.TrimSpace(in.CourseTitle)
	in.CompletedAt = strings.TrimSpace(in.CompletedAt)
	in.ActorEmail = strings.TrimSpace(in.ActorEmail)
	in.CourseID = trimPtr(in.CourseID)
	in.IssuedAt = trimPtr(in.IssuedAt)
	in.PDFURL = trimPtr(in.PDFURL)
	in.JPGURL = trimPtr(in.JPGURL)
	ctx, span := startSpan(ctx, "IssuanceService.IssueManual")
	defer func() { endSpan(span, err) }()

	if err := s.check(in); err != nil {
		return nil, err
	}
	completedAt, err := parseDate(in.CompletedAt)
	if err != nil {
		return nil, common.NewValidationError("completed_at", "must be YYYY-MM-DD or RFC 3339")
	}
	now := s.clock()
	issuedAt := now
	if in.IssuedAt != nil && *in.IssuedAt != "" {
		t, err := time.Parse(time.RFC3339, *in.IssuedAt)
		if err != nil {
			return nil, common.NewValidationError("issued_at", "must be RFC 3339")
		}
		issuedAt = t.UTC()
	}

	c := &models.Certificate{
		StudentName:  in.StudentFullName,
		StudentEmail: in.StudentEmail,
		CourseTitle:  in.CourseTitle,
		CompletedAt:  completedAt,
		PDFURL:       emptyToNil(in.PDFURL),
		JPGURL:       emptyToNil(in.JPGURL),
		CourseID:     emptyToNil(in.CourseID),
	}

	actorID := in.ActorEmail
	if actorID == "" {
		actorID = in.ActorID
	}

	var events []*models.AuditEvent
	err = s.withIDRetry(ctx, issuedAt.Year(), in.Segments, func(certificateID string) error {
		stamp(c, certificateID, issuedAt, now)
		ev := models.NewIssuedEvent(c, models.ActorFor(actorID), models.IssuedMetadata{
			Source:      models.SourceManual,
			PayloadHash: c.PayloadHash,
		}, now)
		events = []*models.AuditEvent{ev}
		return s.insertWithEvents(ctx, c, events)
	})
	if err != nil {
		return nil, err
	}

	s.afterIssue(ctx, c, events, c.PDFURL == nil && c.JPGURL == nil)
	return &IssueResult{Certificate: c, VerificationURL: s.VerificationURL(c.CertificateID)}, nil
}

func (s *IssuanceService) liveFor(ctx context.Context, signupID string) (*IssueResult, error) {
	live, err := s.repos.Certificates(s.db).FindLiveBySignupID(ctx, signupID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find live certificate: %w", err)
	}
	s.log.Debug(ctx, "certificate already issued", "signup_id", signupID, "certificate_id", live.CertificateID)
	return &IssueResult{
		Certificate:     live,
		VerificationURL: s.VerificationURL(live.CertificateID),
		AlreadyIssued:   true,
	}, nil
}

func (s *IssuanceService) insertWithEvents(ctx context.Context, c *models.Certificate, events []*models.AuditEvent) error {
	return s.db.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Certificates(tx).Insert(ctx, c); err != nil {
			return err
		}
		for _, ev := range events {
			if err := s.repos.Audit(tx).Append(ctx, ev); err != nil {
				return fmt.Errorf("append audit event: %w", err)
			}
		}
		return nil
	})
}

func (s *IssuanceService) afterIssue(ctx context.Context, c *models.Certificate, events []*models.AuditEvent, render bool) {
	s.log.Info(ctx, "certificate issued", "certificate_id", c.CertificateID)
	s.publish(ctx, events)
	if render && !s.artifacts.Enqueue(c.CertificateID) {
		s.log.Debug(ctx, "artifact rendering not scheduled", "certificate_id", c.CertificateID)
	}
}

// stamp assigns a fresh identity to c and seals its payload hash.
func stamp(c *models.Certificate, certificateID string, issuedAt, now time.Time) {
	c.ID = uuid.NewString()
	c.CertificateID = certificateID
	c.Status = models.StatusValid
	c.IssuedAt = payload.TruncateIssuedAt(issuedAt)
	c.PayloadHash = payload.Hash(c.Payload())
	c.CreatedAt = now
	c.UpdatedAt = now
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return dateOnly(t.UTC()), nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
