package audit

import (
	"context"

	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// Repository appends to and reads the certificate audit trail. There is no
// update or delete.
type Repository interface {
	// Append stores ev and sets ev.ID.
	Append(ctx context.Context, ev *models.AuditEvent) error
	// ListByCertificateID returns the trail oldest first.
	ListByCertificateID(ctx context.Context, certificateID string) ([]*models.AuditEvent, error)
}
