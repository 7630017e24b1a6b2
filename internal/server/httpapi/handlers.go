package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/certkeeper/internal/server/i18n"
	"github.com/dmitrijs2005/certkeeper/internal/server/models"
	"github.com/dmitrijs2005/certkeeper/internal/server/services"
)

// timestampLayout renders instants with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// CertificateResponse is returned by issuance and admin reads.
type CertificateResponse struct {
	CertificateID            string  `json:"certificate_id"`
	Status                   string  `json:"status"`
	StudentName              string  `json:"student_name"`
	StudentEmail             string  `json:"student_email"`
	CourseID                 *string `json:"course_id,omitempty"`
	CourseTitle              string  `json:"course_title"`
	CompletedAt              string  `json:"completed_at"`
	IssuedAt                 string  `json:"issued_at"`
	PayloadHash              string  `json:"payload_hash"`
	PDFURL                   *string `json:"pdf_url"`
	JPGURL                   *string `json:"jpg_url"`
	RevokedAt                *string `json:"revoked_at,omitempty"`
	RevokedReason            *string `json:"revoked_reason,omitempty"`
	SourceSignupID           *string `json:"source_signup_id,omitempty"`
	PredecessorCertificateID *string `json:"predecessor_certificate_id,omitempty"`
	VerificationCount        int64   `json:"verification_count"`
	VerificationURL          string  `json:"verification_url,omitempty"`
	AlreadyIssued            *bool   `json:"already_issued,omitempty"`
	Message                  string  `json:"message,omitempty"`
	MessageKey               string  `json:"message_key,omitempty"`
}

// VerifyResponse is the public view of a certificate.
type VerifyResponse struct {
	CertificateID     string  `json:"certificate_id"`
	Status            string  `json:"status"`
	StudentName       string  `json:"student_name"`
	CourseTitle       string  `json:"course_title"`
	CompletedAt       string  `json:"completed_at"`
	IssuedAt          string  `json:"issued_at"`
	RevokedAt         *string `json:"revoked_at,omitempty"`
	RevokedReason     *string `json:"revoked_reason,omitempty"`
	PayloadHash       string  `json:"payload_hash"`
	IntegrityVerified bool    `json:"integrity_verified"`
	SupersededBy      *string `json:"superseded_by,omitempty"`
	Message           string  `json:"message"`
	MessageKey        string  `json:"message_key"`
}

// ReissueResponse links the predecessor and its successor.
type ReissueResponse struct {
	OldCertificateID string `json:"old_certificate_id"`
	NewCertificateID string `json:"new_certificate_id"`
	Status           string `json:"status"`
	StudentName      string `json:"student_name"`
	IssuedAt         string `json:"issued_at"`
	PayloadHash      string `json:"payload_hash"`
	VerificationURL  string `json:"verification_url"`
	Message          string `json:"message"`
	MessageKey       string `json:"message_key"`
}

// AuditEventResponse is one entry of an audit trail.
type AuditEventResponse struct {
	ID         int64           `json:"id"`
	EventType  string          `json:"event_type"`
	ActorType  string          `json:"actor_type"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata"`
	OccurredAt string          `json:"occurred_at"`
}

type AuditTrailResponse struct {
	CertificateID string               `json:"certificate_id"`
	Events        []AuditEventResponse `json:"events"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func certificateResponse(c *models.Certificate) CertificateResponse {
	return CertificateResponse{
		CertificateID:            c.CertificateID,
		Status:                   string(c.Status),
		StudentName:              c.StudentName,
		StudentEmail:             c.StudentEmail,
		CourseID:                 c.CourseID,
		CourseTitle:              c.CourseTitle,
		CompletedAt:              formatDate(c.CompletedAt),
		IssuedAt:                 formatTime(c.IssuedAt),
		PayloadHash:              c.PayloadHash,
		PDFURL:                   c.PDFURL,
		JPGURL:                   c.JPGURL,
		RevokedAt:                formatTimePtr(c.RevokedAt),
		RevokedReason:            c.RevokedReason,
		SourceSignupID:           c.SourceSignupID,
		PredecessorCertificateID: c.PredecessorCertificateID,
		VerificationCount:        c.VerificationCount,
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// actorOr returns id, or the token subject when id is empty.
func actorOr(r *http.Request, id string) string {
	if id != "" {
		return id
	}
	return subjectFrom(r.Context())
}

func (a *API) message(r *http.Request, key string) string {
	return a.translator.Message(localeFrom(r.Context()), key)
}

func (a *API) issued(w http.ResponseWriter, r *http.Request, res *services.IssueResult) {
	resp := certificateResponse(res.Certificate)
	resp.VerificationURL = res.VerificationURL
	status, key := http.StatusCreated, i18n.KeyIssueCreated
	if res.AlreadyIssued {
		status, key = http.StatusOK, i18n.KeyIssueAlreadyIssued
		already := true
		resp.AlreadyIssued = &already
	}
	resp.Message, resp.MessageKey = a.message(r, key), key
	writeJSON(w, status, resp)
}

// IssueFromSignup handles POST /certificates/issue.
func (a *API) IssueFromSignup(w http.ResponseWriter, r *http.Request) {
	var in services.IssueFromSignupInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, errInvalidBody, nil)
		return
	}
	in.ActorID = actorOr(r, in.ActorID)

	res, err := a.svc.Issuance.IssueFromSignup(r.Context(), in)
	if err != nil {
		a.mapError(w, r, err, notFoundAsBadRequest)
		return
	}
	a.issued(w, r, res)
}

// IssueManual handles POST /certificates/issue-manual.
func (a *API) IssueManual(w http.ResponseWriter, r *http.Request) {
	var in services.IssueManualInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, errInvalidBody, nil)
		return
	}
	in.ActorID = subjectFrom(r.Context())

	res, err := a.svc.Issuance.IssueManual(r.Context(), in)
	if err != nil {
		a.mapError(w, r, err, notFoundAsBadRequest)
		return
	}
	a.issued(w, r, res)
}

// Verify handles the public GET /certificates/verify/{certificateID}.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Verification.Verify(r.Context(), chi.URLParam(r, "certificateID"), services.ClientInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		a.mapError(w, r, err, notFoundAsNotFound)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{
		CertificateID:     res.CertificateID,
		Status:            string(res.Status),
		StudentName:       res.StudentName,
		CourseTitle:       res.CourseTitle,
		CompletedAt:       formatDate(res.CompletedAt),
		IssuedAt:          formatTime(res.IssuedAt),
		RevokedAt:         formatTimePtr(res.RevokedAt),
		RevokedReason:     res.RevokedReason,
		PayloadHash:       res.PayloadHash,
		IntegrityVerified: res.IntegrityVerified,
		SupersededBy:      res.SupersededBy,
		Message:           a.message(r, res.MessageKey),
		MessageKey:        res.MessageKey,
	})
}

// GetCertificate handles GET /certificates/{certificateID}.
func (a *API) GetCertificate(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Verification.Get(r.Context(), chi.URLParam(r, "certificateID"))
	if err != nil {
		a.mapError(w, r, err, notFoundAsNotFound)
		return
	}
	writeJSON(w, http.StatusOK, certificateResponse(c))
}

// AuditTrail handles GET /certificates/{certificateID}/audit.
func (a *API) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")
	events, err := a.svc.Verification.AuditTrail(r.Context(), id)
	if err != nil {
		a.mapError(w, r, err, notFoundAsNotFound)
		return
	}
	resp := AuditTrailResponse{CertificateID: id, Events: make([]AuditEventResponse, 0, len(events))}
	for _, ev := range events {
		md, err := models.EncodeAuditMetadata(ev.Metadata)
		if err != nil {
			a.mapError(w, r, err, notFoundAsNotFound)
			return
		}
		resp.Events = append(resp.Events, AuditEventResponse{
			ID:         ev.ID,
			EventType:  string(ev.EventType),
			ActorType:  string(ev.ActorType),
			ActorID:    ev.ActorID,
			Metadata:   md,
			OccurredAt: formatTime(ev.OccurredAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke handles POST /certificates/{certificateID}/revoke.
func (a *API) Revoke(w http.ResponseWriter, r *http.Request) {
	var in services.RevokeInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, errInvalidBody, nil)
		return
	}
	in.ActorID = actorOr(r, in.ActorID)

	c, err := a.svc.Revocation.Revoke(r.Context(), chi.URLParam(r, "certificateID"), in)
	if err != nil {
		a.mapError(w, r, err, notFoundAsBadRequest)
		return
	}
	resp := certificateResponse(c)
	resp.Message, resp.MessageKey = a.message(r, i18n.KeyRevokeSuccess), i18n.KeyRevokeSuccess
	writeJSON(w, http.StatusOK, resp)
}

// Reissue handles POST /certificates/{certificateID}/reissue.
func (a *API) Reissue(w http.ResponseWriter, r *http.Request) {
	var in services.ReissueInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, errInvalidBody, nil)
		return
	}
	in.ActorID = actorOr(r, in.ActorID)

	res, err := a.svc.Reissuance.Reissue(r.Context(), chi.URLParam(r, "certificateID"), in)
	if err != nil {
		a.mapError(w, r, err, notFoundAsBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, ReissueResponse{
		OldCertificateID: res.Old.CertificateID,
		NewCertificateID: res.New.CertificateID,
		Status:           string(res.New.Status),
		StudentName:      res.New.StudentName,
		IssuedAt:         formatTime(res.New.IssuedAt),
		PayloadHash:      res.New.PayloadHash,
		VerificationURL:  res.VerificationURL,
		Message:          a.message(r, i18n.KeyReissueSuccess),
		MessageKey:       i18n.KeyReissueSuccess,
	})
}

// UpdateFiles handles PATCH /certificates/{certificateID}/update-files.
func (a *API) UpdateFiles(w http.ResponseWriter, r *http.Request) {
	var in services.UpdateFilesInput
	if err := decode(r, w, &in); err != nil {
		a.writeError(w, r, errInvalidBody, nil)
		return
	}
	in.ActorID = actorOr(r, in.ActorID)

	c, err := a.svc.Files.UpdateFiles(r.Context(), chi.URLParam(r, "certificateID"), in)
	if err != nil {
		a.mapError(w, r, err, notFoundAsNotFound)
		return
	}
	resp := certificateResponse(c)
	resp.Message, resp.MessageKey = a.message(r, i18n.KeyFilesUpdated), i18n.KeyFilesUpdated
	writeJSON(w, http.StatusOK, resp)
}

// Regenerate handles POST /certificates/{certificateID}/regenerate.
func (a *API) Regenerate(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.Files.Regenerate(r.Context(), chi.URLParam(r, "certificateID"), subjectFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err, notFoundAsNotFound)
		return
	}
	resp := certificateResponse(c)
	resp.Message, resp.MessageKey = a.message(r, i18n.KeyFilesRegenerated), i18n.KeyFilesRegenerated
	writeJSON(w, http.StatusOK, resp)
}
