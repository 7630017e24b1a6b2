package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/certkeeper/internal/logging"
	"github.com/dmitrijs2005/certkeeper/internal/server/auth"
	"github.com/dmitrijs2005/certkeeper/internal/server/i18n"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/certkeeper/internal/server/services"
)

const (
	testSecret    = "test-secret"
	unknownCertID = "CERT-2025-AAAAAAAA-BBBB-CCCC-DDDD-EEEEEEEEEEEE"
)

type testServer struct {
	store   *memory.Store
	repos   *memory.RepositoryManager
	handler http.Handler
	token   string
}

type stubLimiter struct {
	allowed bool
	err     error
}

func (l stubLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return l.allowed, 1500 * time.Millisecond, l.err
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("db down") }

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	store := memory.NewStore()
	repos := memory.NewRepositoryManager()
	deps := services.Deps{
		DB:            store,
		Repos:         repos,
		Logger:        logging.Nop(),
		PublicBaseURL: "https://certs.example.com",
	}
	tr, err := i18n.New()
	require.NoError(t, err)

	api := New(Services{
		Issuance:     services.NewIssuanceService(deps),
		Verification: services.NewVerificationService(deps),
		Revocation:   services.NewRevocationService(deps),
		Reissuance:   services.NewReissuanceService(deps),
		Files:        services.NewFilesService(deps, nil, nil),
	}, tr, testSecret, logging.Nop(), opts)

	token, err := auth.GenerateToken("admin-1", []byte(testSecret), time.Hour)
	require.NoError(t, err)

	return &testServer{store: store, repos: repos, handler: api.Router(), token: token}
}

func (s *testServer) signup(t *testing.T, completed bool) string {
	t.Helper()
	return s.signupFor(t, "Ana Gómez", completed)
}

func (s *testServer) signupFor(t *testing.T, name string, completed bool) string {
	t.Helper()
	sg := &models.Signup{
		ID:          uuid.NewString(),
		FullName:    name,
		Email:       "ana@example.com",
		CourseID:    "course-1",
		CourseTitle: "Automation 101",
		CreatedAt:   time.Now().UTC(),
	}
	if completed {
		at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		sg.CompletedAt = &at
	}
	require.NoError(t, s.repos.Signups(s.store).Create(context.Background(), sg))
	return sg.ID
}

func (s *testServer) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) issue(t *testing.T) CertificateResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/certificates/issue", map[string]string{"course_signup_id": s.signup(t, true)}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp CertificateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t, Options{})
	expired, err := auth.GenerateToken("admin-1", []byte(testSecret), -time.Minute)
	require.NoError(t, err)
	forged, err := auth.GenerateToken("admin-1", []byte("other"), time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing": "",
		"scheme":  "Basic abc",
		"expired": "Bearer " + expired,
		"forged":  "Bearer " + forged,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/certificates/"+unknownCertID, nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeError(t, rec).Code)
		})
	}
}

func TestIssue_CreatedThenAlreadyIssued(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.signup(t, true)

	rec := s.do(t, http.MethodPost, "/certificates/issue", map[string]string{"course_signup_id": id}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first CertificateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "valid", first.Status)
	assert.Equal(t, "https://certs.example.com/verify/"+first.CertificateID, first.VerificationURL)
	assert.Nil(t, first.AlreadyIssued)
	assert.Equal(t, i18n.KeyIssueCreated, first.MessageKey)

	rec = s.do(t, http.MethodPost, "/certificates/issue", map[string]string{"course_signup_id": id}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second CertificateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.CertificateID, second.CertificateID)
	require.NotNil(t, second.AlreadyIssued)
	assert.True(t, *second.AlreadyIssued)
}

func TestIssue_Errors(t *testing.T) {
	s := newTestServer(t, Options{})

	tests := []struct {
		name string
		body any
		code string
	}{
		{"empty body", nil, "validation_error"},
		{"not a uuid", map[string]string{"course_signup_id": "nope"}, "validation_error"},
		{"unknown signup", map[string]string{"course_signup_id": uuid.NewString()}, "signup_not_found"},
		{"not completed", map[string]string{"course_signup_id": s.signup(t, false)}, "not_completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/certificates/issue", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/certificates/issue", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+s.token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_body", decodeError(t, rec).Code)
}

func TestIssueManual_ValidationFields(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := s.do(t, http.MethodPost, "/certificates/issue-manual", map[string]any{
		"student_full_name": "A",
		"student_email":     "not-an-email",
		"course_title":      "Automation 101",
		"completed_at":      "2025-03-01",
	}, true)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_error", resp.Code)
	assert.Contains(t, resp.Fields, "student_full_name")
	assert.Contains(t, resp.Fields, "student_email")
}

func TestVerify(t *testing.T) {
	s := newTestServer(t, Options{})
	cert := s.issue(t)

	rec := s.do(t, http.MethodGet, "/certificates/verify/"+cert.CertificateID, nil, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "ana@example.com")

	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "valid", resp.Status)
	assert.True(t, resp.IntegrityVerified)
	assert.Equal(t, "This certificate is valid.", resp.Message)

	rec = s.do(t, http.MethodGet, "/certificates/verify/"+unknownCertID, nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/certificates/verify/CERT-bogus", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed_id", decodeError(t, rec).Code)
}

func TestVerify_Spanish(t *testing.T) {
	s := newTestServer(t, Options{})
	cert := s.issue(t)

	rec := s.do(t, http.MethodGet, "/certificates/verify/"+cert.CertificateID+"?lang=es", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "es", rec.Header().Get("Content-Language"))

	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Este certificado es válido.", resp.Message)
	assert.Equal(t, i18n.KeyVerifyValid, resp.MessageKey)
}

func TestVerify_RateLimited(t *testing.T) {
	s := newTestServer(t, Options{Limiter: stubLimiter{allowed: false}})

	rec := s.do(t, http.MethodGet, "/certificates/verify/"+unknownCertID, nil, false)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, rec).Code)
}

func TestVerify_LimiterFailureFailsOpen(t *testing.T) {
	s := newTestServer(t, Options{Limiter: stubLimiter{err: errors.New("redis down")}})

	rec := s.do(t, http.MethodGet, "/certificates/verify/"+unknownCertID, nil, false)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevokeThenReissue(t *testing.T) {
	s := newTestServer(t, Options{})
	cert := s.issue(t)

	rec := s.do(t, http.MethodPost, "/certificates/"+cert.CertificateID+"/revoke", map[string]string{"reason": "short"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Code)

	other := s.issue(t)
	rec = s.do(t, http.MethodPost, "/certificates/"+other.CertificateID+"/reissue",
		map[string]string{"updated_student_name": "Ana María Gómez"}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var re ReissueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &re))
	assert.Equal(t, other.CertificateID, re.OldCertificateID)
	assert.NotEqual(t, re.OldCertificateID, re.NewCertificateID)
	assert.Equal(t, "Ana María Gómez", re.StudentName)

	rec = s.do(t, http.MethodPost, "/certificates/"+other.CertificateID+"/revoke",
		map[string]string{"reason": "Duplicate enrollment record"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/certificates/"+cert.CertificateID+"/revoke",
		map[string]string{"reason": "Duplicate enrollment record"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/certificates/"+cert.CertificateID+"/revoke",
		map[string]string{"reason": "Duplicate enrollment record"}, true)
	assert.Equal(t, "already_revoked", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodGet, "/certificates/verify/"+other.CertificateID, nil, false)
	var v VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "reissued", v.Status)
	require.NotNil(t, v.SupersededBy)
	assert.Equal(t, re.NewCertificateID, *v.SupersededBy)

	rec = s.do(t, http.MethodPost, "/certificates/"+unknownCertID+"/revoke",
		map[string]string{"reason": "Duplicate enrollment record"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Code)
}

func TestUpdateFiles(t *testing.T) {
	s := newTestServer(t, Options{})
	cert := s.issue(t)

	rec := s.do(t, http.MethodPatch, "/certificates/"+cert.CertificateID+"/update-files",
		map[string]string{"pdf_url": "https://cdn.example.com/a.pdf"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CertificateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.PDFURL)
	assert.Equal(t, "https://cdn.example.com/a.pdf", *resp.PDFURL)
	assert.Nil(t, resp.JPGURL)

	rec = s.do(t, http.MethodPatch, "/certificates/"+unknownCertID+"/update-files",
		map[string]string{"pdf_url": "https://cdn.example.com/a.pdf"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegenerate_NoStoreIsUnavailable(t *testing.T) {
	s := newTestServer(t, Options{})
	cert := s.issue(t)

	rec := s.do(t, http.MethodPost, "/certificates/"+cert.CertificateID+"/regenerate", nil, true)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeError(t, rec).Code)
}

func TestAuditTrail(t *testing.T) {
	s := newTestServer(t, Options{})
	cert := s.issue(t)
	s.do(t, http.MethodGet, "/certificates/verify/"+cert.CertificateID, nil, false)

	rec := s.do(t, http.MethodGet, "/certificates/"+cert.CertificateID+"/audit", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuditTrailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "issued", resp.Events[0].EventType)
	assert.Equal(t, "admin", resp.Events[0].ActorType)
	assert.Equal(t, "verified", resp.Events[1].EventType)
	assert.Equal(t, "anonymous", resp.Events[1].ActorType)

	var issued models.IssuedMetadata
	require.NoError(t, json.Unmarshal(resp.Events[0].Metadata, &issued))
	assert.Equal(t, models.SourceSignup, issued.Source)
	assert.Equal(t, cert.PayloadHash, issued.PayloadHash)

	var verified models.VerifiedMetadata
	require.NoError(t, json.Unmarshal(resp.Events[1].Metadata, &verified))
	assert.True(t, verified.IntegrityVerified)
}

func TestHealthz(t *testing.T) {
	rec := newTestServer(t, Options{}).do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = newTestServer(t, Options{Health: failingPinger{}}).do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpenAPIDocument(t *testing.T) {
	rec := newTestServer(t, Options{}).do(t, http.MethodGet, "/openapi.yaml", nil, false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/certificates/verify/{certificateID}")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, classify(errors.New("boom"), notFoundAsNotFound).status)
}
