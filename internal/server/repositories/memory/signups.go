package memory

import (
	"context"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

type SignupRepository struct {
	h accessor
}

func (r *SignupRepository) FindByID(_ context.Context, id string) (*models.Signup, error) {
	var out *models.Signup
	err := r.h.access(func(s *state) error {
		v, ok := s.signups[id]
		if !ok {
			return common.ErrorNotFound
		}
		cp := *v
		out = &cp
		return nil
	})
	return out, err
}

func (r *SignupRepository) Create(_ context.Context, signup *models.Signup) error {
	return r.h.access(func(s *state) error {
		if _, exists := s.signups[signup.ID]; exists {
			return common.ErrorConflict
		}
		cp := *signup
		s.signups[cp.ID] = &cp
		s.onRollback(func() { delete(s.signups, cp.ID) })
		return nil
	})
}
