// Package audit provides the append-only audit log writer for certificates.
package audit

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, ev *models.AuditEvent) error {
	metadata, err := models.EncodeAuditMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO certificate_audit_events
			(certificate_uuid, certificate_id, event_type, actor_type, actor_id, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		ev.CertificateUUID, ev.CertificateID, string(ev.EventType), string(ev.ActorType), ev.ActorID,
		string(metadata), ev.OccurredAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByCertificateID(ctx context.Context, certificateID string) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, certificate_uuid, certificate_id, event_type, actor_type, actor_id, metadata, occurred_at
		FROM certificate_audit_events
		WHERE certificate_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit events: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEvent
	for rows.Next() {
		var (
			ev  models.AuditEvent
			raw []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.CertificateUUID, &ev.CertificateID, &ev.EventType, &ev.ActorType, &ev.ActorID,
			&raw, &ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		if ev.Metadata, err = models.DecodeAuditMetadata(ev.EventType, raw); err != nil {
			return nil, err
		}
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
