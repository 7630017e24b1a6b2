package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/certificates"
)

// CertificateRepository mirrors the PostgreSQL constraints: unique
// certificate ids and at most one valid certificate per signup.
type CertificateRepository struct {
	h accessor
}

func (r *CertificateRepository) find(match func(*models.Certificate) bool) (*models.Certificate, error) {
	var found *models.Certificate
	err := r.h.access(func(s *state) error {
		for _, c := range s.certificates {
			if match(c) {
				found = c.Clone()
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return found, err
}

func (r *CertificateRepository) FindByCertificateID(_ context.Context, certificateID string) (*models.Certificate, error) {
	var found *models.Certificate
	err := r.h.access(func(s *state) error {
		c, ok := s.certificates[certificateID]
		if !ok {
			return common.ErrorNotFound
		}
		found = c.Clone()
		return nil
	})
	return found, err
}

func (r *CertificateRepository) FindByCertificateIDForUpdate(ctx context.Context, certificateID string) (*models.Certificate, error) {
	return r.FindByCertificateID(ctx, certificateID)
}

func (r *CertificateRepository) FindLiveBySignupID(_ context.Context, signupID string) (*models.Certificate, error) {
	return r.find(func(c *models.Certificate) bool {
		return c.Status == models.StatusValid && c.SourceSignupID != nil && *c.SourceSignupID == signupID
	})
}

func (r *CertificateRepository) FindSuccessor(_ context.Context, certificateID string) (*models.Certificate, error) {
	return r.find(func(c *models.Certificate) bool {
		return c.PredecessorCertificateID != nil && *c.PredecessorCertificateID == certificateID
	})
}

func (r *CertificateRepository) Insert(_ context.Context, c *models.Certificate) error {
	return r.h.access(func(s *state) error {
		if _, taken := s.certificates[c.CertificateID]; taken {
			return common.ErrCertificateIDTaken
		}
		if c.Status == models.StatusValid && c.SourceSignupID != nil {
			for _, other := range s.certificates {
				if other.Status == models.StatusValid && other.SourceSignupID != nil && *other.SourceSignupID == *c.SourceSignupID {
					return common.ErrLiveCertificateExists
				}
			}
		}
		id, uuid := c.CertificateID, c.ID
		s.certificates[id] = c.Clone()
		s.byUUID[uuid] = id
		s.onRollback(func() {
			delete(s.certificates, id)
			delete(s.byUUID, uuid)
		})
		return nil
	})
}

func (r *CertificateRepository) transition(certificateID string, target models.CertificateStatus, apply func(*models.Certificate)) (*models.Certificate, error) {
	var out *models.Certificate
	err := r.h.access(func(s *state) error {
		c, ok := s.certificates[certificateID]
		if !ok {
			return common.ErrorNotFound
		}
		if c.Status != models.StatusValid {
			return certificates.TransitionError(c.Status, target)
		}
		out = s.replaceCertificate(certificateID, func(c *models.Certificate) {
			c.Status = target
			apply(c)
		}).Clone()
		return nil
	})
	return out, err
}

func (r *CertificateRepository) TransitionToRevoked(_ context.Context, certificateID, reason string, at time.Time) (*models.Certificate, error) {
	return r.transition(certificateID, models.StatusRevoked, func(c *models.Certificate) {
		c.RevokedAt = &at
		c.RevokedReason = &reason
		c.UpdatedAt = at
	})
}

func (r *CertificateRepository) TransitionToReissued(_ context.Context, certificateID string, at time.Time) (*models.Certificate, error) {
	return r.transition(certificateID, models.StatusReissued, func(c *models.Certificate) {
		c.UpdatedAt = at
	})
}

func (r *CertificateRepository) UpdateFiles(_ context.Context, certificateID string, files models.FileURLs, at time.Time) (*models.Certificate, error) {
	var out *models.Certificate
	err := r.h.access(func(s *state) error {
		if _, ok := s.certificates[certificateID]; !ok {
			return common.ErrorNotFound
		}
		out = s.replaceCertificate(certificateID, func(c *models.Certificate) {
			if files.PDFURL != nil {
				v := *files.PDFURL
				c.PDFURL = &v
			}
			if files.JPGURL != nil {
				v := *files.JPGURL
				c.JPGURL = &v
			}
			c.UpdatedAt = at
		}).Clone()
		return nil
	})
	return out, err
}

func (r *CertificateRepository) IncrementVerificationCount(_ context.Context, certificateID string) (int64, error) {
	var n int64
	err := r.h.access(func(s *state) error {
		if _, ok := s.certificates[certificateID]; !ok {
			return common.ErrorNotFound
		}
		n = s.replaceCertificate(certificateID, func(c *models.Certificate) {
			c.VerificationCount++
		}).VerificationCount
		return nil
	})
	return n, err
}
