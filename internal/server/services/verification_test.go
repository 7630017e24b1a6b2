package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/server/i18n"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/audit"
)

func TestVerify_Valid(t *testing.T) {
	e := newEnv(t)
	c := e.issue(t)
	svc := NewVerificationService(e.deps)

	res, err := svc.Verify(context.Background(), c.CertificateID, ClientInfo{IP: "203.0.113.9", UserAgent: "curl/8"})
	require.NoError(t, err)
	assert.Equal(t, c.CertificateID, res.CertificateID)
	assert.Equal(t, models.StatusValid, res.Status)
	assert.Equal(t, "Ana Gómez", res.StudentName)
	assert.True(t, res.IntegrityVerified)
	assert.Equal(t, i18n.KeyVerifyValid, res.MessageKey)
	assert.Nil(t, res.RevokedAt)
	assert.Nil(t, res.SupersededBy)

	assert.EqualValues(t, 1, e.find(t, c.CertificateID).VerificationCount)
	events := e.trail(t, c.CertificateID)
	require.Len(t, events, 2)
	ev := events[1]
	assert.Equal(t, models.EventVerified, ev.EventType)
	assert.Equal(t, models.ActorAnonymous, ev.ActorType)
	assert.Equal(t, models.VerifiedMetadata{IPAddress: "203.0.113.9", UserAgent: "curl/8", IntegrityVerified: true}, ev.Metadata)
}

func TestVerify_Errors(t *testing.T) {
	e := newEnv(t)
	svc := NewVerificationService(e.deps)

	_, err := svc.Verify(context.Background(), "cert-2025-abc", ClientInfo{})
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = svc.Verify(context.Background(), "CERT-2025-AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE", ClientInfo{})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestVerify_RevokedAndReissued(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	svc := NewVerificationService(e.deps)

	revoked := e.issue(t)
	_, err := NewRevocationService(e.deps).Revoke(ctx, revoked.CertificateID, RevokeInput{Reason: "Academic misconduct found"})
	require.NoError(t, err)

	res, err := svc.Verify(ctx, revoked.CertificateID, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, res.Status)
	assert.Equal(t, i18n.KeyVerifyRevoked, res.MessageKey)
	require.NotNil(t, res.RevokedReason)
	assert.Equal(t, "Academic misconduct found", *res.RevokedReason)
	assert.Equal(t, fixedNow, *res.RevokedAt)

	old := e.issue(t)
	re, err := NewReissuanceService(e.deps).Reissue(ctx, old.CertificateID, ReissueInput{})
	require.NoError(t, err)

	res, err = svc.Verify(ctx, old.CertificateID, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReissued, res.Status)
	assert.Equal(t, i18n.KeyVerifyReissued, res.MessageKey)
	require.NotNil(t, res.SupersededBy)
	assert.Equal(t, re.New.CertificateID, *res.SupersededBy)
}

func TestVerify_ReportsTampering(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.issue(t)

	tampered := c.Clone()
	tampered.CertificateID = "CERT-2025-00000000-0000-0000-0000-000000000001"
	tampered.ID = "tampered"
	tampered.SourceSignupID = nil
	tampered.StudentName = "Mallory"
	require.NoError(t, e.repos.Certificates(e.store).Insert(ctx, tampered))

	res, err := NewVerificationService(e.deps).Verify(ctx, tampered.CertificateID, ClientInfo{})
	require.NoError(t, err)
	assert.False(t, res.IntegrityVerified)
	assert.Equal(t, models.StatusValid, res.Status)
}

func TestVerify_AuditFailureIsNotFatal(t *testing.T) {
	e := newEnv(t)
	c := e.issue(t)
	deps := e.deps
	deps.Repos = &overrideManager{
		RepositoryManager: e.repos,
		audit:             func(r audit.Repository) audit.Repository { return failingAudit{r} },
	}

	res, err := NewVerificationService(deps).Verify(context.Background(), c.CertificateID, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, c.CertificateID, res.CertificateID)
	assert.EqualValues(t, 0, e.find(t, c.CertificateID).VerificationCount, "count and audit event commit together")
	assert.Len(t, e.trail(t, c.CertificateID), 1)
}

func TestVerify_ConcurrentCountsAreNotLost(t *testing.T) {
	e := newEnv(t)
	c := e.issue(t)
	svc := NewVerificationService(e.deps)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Verify(context.Background(), c.CertificateID, ClientInfo{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, n, e.find(t, c.CertificateID).VerificationCount)
	assert.Len(t, e.trail(t, c.CertificateID), n+1)
}

func TestGetAndAuditTrail(t *testing.T) {
	e := newEnv(t)
	c := e.issue(t)
	svc := NewVerificationService(e.deps)
	ctx := context.Background()

	got, err := svc.Get(ctx, c.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.StudentEmail)

	trail, err := svc.AuditTrail(ctx, c.CertificateID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.EventIssued, trail[0].EventType)

	_, err = svc.AuditTrail(ctx, "CERT-2025-AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorValidation)
}
