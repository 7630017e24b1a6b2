package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// RevokeInput carries the reason recorded on the certificate.
type RevokeInput struct {
	Reason  string `json:"reason" validate:"required,min=10,max=1000"`
	ActorID string `json:"actor_id"`
}

type RevocationService struct {
	base
}

func NewRevocationService(d Deps) *RevocationService {
	return &RevocationService{base: newBase(d, "revocation")}
}

// Revoke moves a valid certificate to revoked. Revoking twice fails with
// common.ErrAlreadyRevoked; a reissued certificate cannot be revoked.
func (s *RevocationService) Revoke(ctx context.Context, certificateID string, in RevokeInput) (c *models.Certificate, err error) {
	in.Reason = strings.TrimSpace(in.Reason)
	in.ActorID = strings.TrimSpace(in.ActorID)
	ctx, span := startSpan(ctx, "RevocationService.Revoke", attribute.String("certificate_id", certificateID))
	defer func() { endSpan(span, err) }()

	if err := s.checkID(certificateID); err != nil {
		return nil, err
	}
	if err := s.check(in); err != nil {
		return nil, err
	}

	now := s.clock()
	var ev *models.AuditEvent
	err = s.db.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		c, err = s.repos.Certificates(tx).TransitionToRevoked(ctx, certificateID, in.Reason, now)
		if err != nil {
			return err
		}
		md := models.RevokedMetadata{Reason: in.Reason}
		if in.ActorID != "" {
			md.ActorID = &in.ActorID
		}
		ev = models.NewRevokedEvent(c, models.ActorFor(in.ActorID), md, now)
		if err := s.repos.Audit(tx).Append(ctx, ev); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "certificate revoked", "certificate_id", certificateID)
	s.publish(ctx, []*models.AuditEvent{ev})
	return c, nil
}
