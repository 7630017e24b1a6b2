package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/certkeeper/internal/server/models"
)

const certID = "CERT-2025-AABBCCDD-EEFF-0011-2233-445566778899"

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestAppend_SetsIDAndStoresTypedMetadata(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	actor := "admin-7"

	ev := &models.AuditEvent{
		CertificateUUID: "8d7f9a52-2a4e-4b7e-9d0b-2f6f3f1c0a11",
		CertificateID:   certID,
		EventType:       models.EventRevoked,
		ActorType:       models.ActorAdmin,
		ActorID:         &actor,
		Metadata:        models.RevokedMetadata{Reason: "Issued in error", ActorID: &actor},
		OccurredAt:      at,
	}

	mock.ExpectQuery(`INSERT INTO certificate_audit_events .* RETURNING id`).
		WithArgs(ev.CertificateUUID, certID, "revoked", "admin", actor,
			`{"reason":"Issued in error","actor_id":"admin-7"}`, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, repo.Append(context.Background(), ev))
	assert.Equal(t, int64(42), ev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`INSERT INTO certificate_audit_events`).WillReturnError(errors.New("append-only"))

	err := repo.Append(context.Background(), &models.AuditEvent{
		EventType: models.EventVerified,
		ActorType: models.ActorAnonymous,
		Metadata:  models.VerifiedMetadata{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

func TestListByCertificateID(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	rows := sqlmock.NewRows([]string{"id", "certificate_uuid", "certificate_id", "event_type", "actor_type", "actor_id", "metadata", "occurred_at"}).
		AddRow(int64(1), "u-1", certID, "issued", "system", nil, []byte(`{"source":"manual","payload_hash":"ab"}`), t1).
		AddRow(int64(2), "u-1", certID, "verified", "anonymous", nil, []byte(`{"ip_address":"10.0.0.1","integrity_verified":true}`), t2)

	mock.ExpectQuery(`FROM certificate_audit_events\s+WHERE certificate_id = \$1\s+ORDER BY occurred_at, id`).
		WithArgs(certID).
		WillReturnRows(rows)

	got, err := repo.ListByCertificateID(context.Background(), certID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.EventIssued, got[0].EventType)
	assert.Equal(t, models.IssuedMetadata{Source: models.SourceManual, PayloadHash: "ab"}, got[0].Metadata)
	assert.Nil(t, got[0].ActorID)

	assert.Equal(t, models.ActorAnonymous, got[1].ActorType)
	assert.Equal(t, models.VerifiedMetadata{IPAddress: "10.0.0.1", IntegrityVerified: true}, got[1].Metadata)
}

func TestListByCertificateID_BadMetadata(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	rows := sqlmock.NewRows([]string{"id", "certificate_uuid", "certificate_id", "event_type", "actor_type", "actor_id", "metadata", "occurred_at"}).
		AddRow(int64(1), "u-1", certID, "issued", "system", nil, []byte(`{`), time.Now())
	mock.ExpectQuery(`FROM certificate_audit_events`).WillReturnRows(rows)

	_, err := repo.ListByCertificateID(context.Background(), certID)
	assert.Error(t, err)
}
