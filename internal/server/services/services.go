// Package services implements the certificate lifecycle: issuance,
// verification, revocation, reissuance and artifact file updates.
//
// Every state change and its audit event are written in one transaction.
// Rendering artifacts and publishing audit events happen after commit and
// never fail the operation that triggered them.
package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/logging"
	"github.com/dmitrijs2005/certkeeper/internal/server/certid"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/repomanager"
)

// maxIDAttempts bounds retries after a certificate id collision.
const maxIDAttempts = 5

var tracer = otel.Tracer("github.com/dmitrijs2005/certkeeper/internal/server/services")

// ArtifactQueue schedules background rendering of a certificate.
type ArtifactQueue interface {
	Enqueue(certificateID string) bool
}

// AuditPublisher receives audit events after their transaction commits.
type AuditPublisher interface {
	Publish(ctx context.Context, events ...*models.AuditEvent)
}

type nopQueue struct{}

func (nopQueue) Enqueue(string) bool { return false }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...*models.AuditEvent) {}

// Deps are the collaborators shared by all services.
type Deps struct {
	DB     dbx.Database
	Repos  repomanager.RepositoryManager
	Logger logging.Logger

	// PublicBaseURL prefixes /verify/<certificate_id>.
	PublicBaseURL string

	// Optional.
	Artifacts ArtifactQueue
	Audit     AuditPublisher
	Now       func() time.Time
}

// base carries Deps with defaults applied.
type base struct {
	db        dbx.Database
	repos     repomanager.RepositoryManager
	log       logging.Logger
	baseURL   string
	artifacts ArtifactQueue
	audit     AuditPublisher
	now       func() time.Time
	validate  *validator.Validate
}

func newBase(d Deps, module string) base {
	b := base{
		db:        d.DB,
		repos:     d.Repos,
		log:       d.Logger,
		baseURL:   strings.TrimRight(d.PublicBaseURL, "/"),
		artifacts: d.Artifacts,
		audit:     d.Audit,
		now:       d.Now,
		validate:  newValidator(),
	}
	if b.log == nil {
		b.log = logging.Nop()
	}
	b.log = b.log.With("module", module)
	if b.artifacts == nil {
		b.artifacts = nopQueue{}
	}
	if b.audit == nil {
		b.audit = nopPublisher{}
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// VerificationURL returns the public verification link for certificateID.
func (b *base) VerificationURL(certificateID string) string {
	return b.baseURL + "/verify/" + certificateID
}

func (b *base) clock() time.Time {
	return b.now().UTC()
}

// publish hands committed events to the audit publisher.
func (b *base) publish(ctx context.Context, events []*models.AuditEvent) {
	if len(events) > 0 {
		b.audit.Publish(ctx, events...)
	}
}

// withIDRetry calls fn with fresh identifiers until it stops failing with
// common.ErrCertificateIDTaken. Pinned segments that leave nothing random
// make a retry pointless, so the conflict is returned at once.
func (b *base) withIDRetry(ctx context.Context, year int, segments []string, fn func(certificateID string) error) error {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := certid.GenerateWithSegments(year, segments)
		if err != nil {
			return err
		}
		err = fn(id)
		if !errors.Is(err, common.ErrCertificateIDTaken) {
			return err
		}
		if certid.FullyPinned(segments) {
			return err
		}
		b.log.Warn(ctx, "certificate id collision, regenerating", "certificate_id", id, "attempt", attempt)
	}
	return fmt.Errorf("%w: no free identifier after %d attempts", common.ErrCertificateIDTaken, maxIDAttempts)
}

func (b *base) checkID(certificateID string) error {
	return certid.Validate(certificateID)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates in and converts validator failures to
// common.ValidationErrors keyed by JSON field name.
func (b *base) check(in any) error {
	err := b.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	out := make(common.ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, &common.ValidationError{Field: fieldPath(fe), Reason: reasonFor(fe)})
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "http_url":
		return "must be an absolute http(s) URL"
	case "uuid":
		return "must be a UUID"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// dateOnly returns t's calendar date at UTC midnight.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
