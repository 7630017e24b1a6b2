package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// AuditRepository appends events; stored events are never modified.
type AuditRepository struct {
	h accessor
}

func (r *AuditRepository) Append(_ context.Context, ev *models.AuditEvent) error {
	return r.h.access(func(s *state) error {
		if _, known := s.byUUID[ev.CertificateUUID]; !known {
			return fmt.Errorf("audit event references unknown certificate %s", ev.CertificateUUID)
		}

		n, lastID := len(s.events), s.lastEventID
		s.lastEventID++
		ev.ID = s.lastEventID
		stored := *ev
		s.events = append(s.events, &stored)
		s.onRollback(func() {
			s.events = s.events[:n]
			s.lastEventID = lastID
		})
		return nil
	})
}

func (r *AuditRepository) ListByCertificateID(_ context.Context, certificateID string) ([]*models.AuditEvent, error) {
	var out []*models.AuditEvent
	err := r.h.access(func(s *state) error {
		for _, ev := range s.events {
			if ev.CertificateID == certificateID {
				cp := *ev
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}
