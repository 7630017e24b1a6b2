package certificates

import (
	"context"
	"time"

	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// Repository is the only access path to the certificates table. Lookups
// return common.ErrorNotFound when nothing matches.
type Repository interface {
	FindByCertificateID(ctx context.Context, certificateID string) (*models.Certificate, error)
	// FindByCertificateIDForUpdate locks the row until the transaction ends.
	FindByCertificateIDForUpdate(ctx context.Context, certificateID string) (*models.Certificate, error)
	// FindLiveBySignupID matches only certificates in status valid.
	FindLiveBySignupID(ctx context.Context, signupID string) (*models.Certificate, error)
	// FindSuccessor returns the certificate that names certificateID as its predecessor.
	FindSuccessor(ctx context.Context, certificateID string) (*models.Certificate, error)

	// Insert fails with common.ErrCertificateIDTaken or
	// common.ErrLiveCertificateExists on uniqueness conflicts.
	Insert(ctx context.Context, c *models.Certificate) error

	TransitionToRevoked(ctx context.Context, certificateID, reason string, at time.Time) (*models.Certificate, error)
	TransitionToReissued(ctx context.Context, certificateID string, at time.Time) (*models.Certificate, error)
	UpdateFiles(ctx context.Context, certificateID string, files models.FileURLs, at time.Time) (*models.Certificate, error)
	// IncrementVerificationCount atomically adds one and returns the new count.
	IncrementVerificationCount(ctx context.Context, certificateID string) (int64, error)
}
