package signups

import (
	"context"

	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// Repository reads enrollment records owned by the course system.
type Repository interface {
	// FindByID returns common.ErrorNotFound for unknown signups.
	FindByID(ctx context.Context, id string) (*models.Signup, error)
	// Create records an enrollment in the read model. It is the seeding
	// hook used by `certctl signup` when the course system does not write
	// course_signups itself. Duplicate ids return common.ErrorConflict.
	Create(ctx context.Context, s *models.Signup) error
}
