package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/artifacts"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// UpdateFilesInput replaces one or both artifact URLs.
type UpdateFilesInput struct {
	PDFURL  *string `json:"pdf_url" validate:"omitempty,http_url"`
	JPGURL  *string `json:"jpg_url" validate:"omitempty,http_url"`
	ActorID string  `json:"actor_id"`
}

// FilesService manages the rendered artifacts of certificates.
type FilesService struct {
	base
	store    artifacts.Store
	renderer artifacts.Renderer
}

// NewFilesService returns a FilesService. store and renderer may be nil, in
// which case Regenerate reports common.ErrUnavailable.
func NewFilesService(d Deps, store artifacts.Store, renderer artifacts.Renderer) *FilesService {
	return &FilesService{base: newBase(d, "files"), store: store, renderer: renderer}
}

// UpdateFiles records externally produced artifact URLs.
func (s *FilesService) UpdateFiles(ctx context.Context, certificateID string, in UpdateFilesInput) (c *models.Certificate, err error) {
	in.PDFURL = trimPtr(in.PDFURL)
	in.JPGURL = trimPtr(in.JPGURL)
	in.ActorID = strings.TrimSpace(in.ActorID)
	ctx, span := startSpan(ctx, "FilesService.UpdateFiles", attribute.String("certificate_id", certificateID))
	defer func() { endSpan(span, err) }()

	if err := s.checkID(certificateID); err != nil {
		return nil, err
	}
	if in.PDFURL == nil && in.JPGURL == nil {
		return nil, common.NewValidationError("", "pdf_url or jpg_url is required")
	}
	var empty common.ValidationErrors
	if in.PDFURL != nil && *in.PDFURL == "" {
		empty = append(empty, &common.ValidationError{Field: "pdf_url", Reason: "must not be empty"})
	}
	if in.JPGURL != nil && *in.JPGURL == "" {
		empty = append(empty, &common.ValidationError{Field: "jpg_url", Reason: "must not be empty"})
	}
	if len(empty) > 0 {
		return nil, empty
	}
	if err := s.check(in); err != nil {
		return nil, err
	}

	files := models.FileURLs{PDFURL: in.PDFURL, JPGURL: in.JPGURL}
	c, ev, err := s.apply(ctx, certificateID, files, models.ActorFor(in.ActorID), false)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "certificate files updated", "certificate_id", certificateID)
	s.publish(ctx, []*models.AuditEvent{ev})
	return c, nil
}

// Regenerate renders fresh artifacts, uploads them under new keys and
// points the certificate at them. Objects the certificate referenced
// before are removed best-effort.
func (s *FilesService) Regenerate(ctx context.Context, certificateID, actorID string) (c *models.Certificate, err error) {
	ctx, span := startSpan(ctx, "FilesService.Regenerate", attribute.String("certificate_id", certificateID))
	defer func() { endSpan(span, err) }()

	if err := s.checkID(certificateID); err != nil {
		return nil, err
	}
	if s.store == nil || s.renderer == nil {
		return nil, common.ErrUnavailable
	}

	prev, err := s.repos.Certificates(s.db).FindByCertificateID(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	rendered, err := s.renderer.Render(ctx, prev)
	if err != nil {
		return nil, fmt.Errorf("render artifacts: %w", err)
	}

	now := s.clock()
	var jpgURL, pdfURL string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		key := artifacts.ObjectKey(certificateID, now, artifacts.ExtJPG)
		jpgURL, err = s.store.Put(gctx, key, artifacts.ContentTypeForKey(key), rendered.JPG)
		return err
	})
	g.Go(func() error {
		var err error
		key := artifacts.ObjectKey(certificateID, now, artifacts.ExtPDF)
		pdfURL, err = s.store.Put(gctx, key, artifacts.ContentTypeForKey(key), rendered.PDF)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("upload artifacts: %w", err)
	}

	files := models.FileURLs{PDFURL: &pdfURL, JPGURL: &jpgURL}
	c, ev, err := s.apply(ctx, certificateID, files, models.ActorFor(strings.TrimSpace(actorID)), true)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "certificate files regenerated", "certificate_id", certificateID)
	s.publish(ctx, []*models.AuditEvent{ev})

	s.removeStale(ctx, prev.JPGURL, jpgURL)
	s.removeStale(ctx, prev.PDFURL, pdfURL)
	return c, nil
}

// RegenerateArtifacts lets the background pipeline regenerate on behalf of
// the system actor.
func (s *FilesService) RegenerateArtifacts(ctx context.Context, certificateID string) error {
	_, err := s.Regenerate(ctx, certificateID, "")
	return err
}

func (s *FilesService) apply(ctx context.Context, certificateID string, files models.FileURLs, actor models.Actor, regenerated bool) (*models.Certificate, *models.AuditEvent, error) {
	now := s.clock()
	var (
		c  *models.Certificate
		ev *models.AuditEvent
	)
	err := s.db.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		c, err = s.repos.Certificates(tx).UpdateFiles(ctx, certificateID, files, now)
		if err != nil {
			return err
		}
		ev = models.NewFilesUpdatedEvent(c, actor, models.FilesUpdatedMetadata{
			PDFURL:      files.PDFURL != nil,
			JPGURL:      files.JPGURL != nil,
			Regenerated: regenerated,
		}, now)
		if err := s.repos.Audit(tx).Append(ctx, ev); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	})
	return c, ev, err
}

func (s *FilesService) removeStale(ctx context.Context, old *string, current string) {
	if old == nil || *old == "" || *old == current {
		return
	}
	key, ok := s.store.KeyForURL(*old)
	if !ok {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.log.Warn(ctx, "stale artifact not deleted", "key", key, "error", err)
	}
}
