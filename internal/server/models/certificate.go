// Package models defines the records persisted by the certificate engine.
package models

import (
	"time"

	"github.com/dmitrijs2005/certkeeper/internal/server/payload"
)

// CertificateStatus is the lifecycle state of a certificate.
type CertificateStatus string

const (
	StatusValid    CertificateStatus = "valid"
	StatusRevoked  CertificateStatus = "revoked"
	StatusReissued CertificateStatus = "reissued"
)

// Certificate is an issued record of course completion.
//
// ID is the internal UUID; CertificateID is the public identifier handed
// out to students and verifiers. Optional columns are pointers.
type Certificate struct {
	ID            string
	CertificateID string
	Status        CertificateStatus

	StudentName  string
	StudentEmail string
	CourseID     *string
	CourseTitle  string
	CompletedAt  time.Time
	IssuedAt     time.Time
	PayloadHash  string

	PDFURL *string
	JPGURL *string

	RevokedAt     *time.Time
	RevokedReason *string

	SourceSignupID           *string
	PredecessorCertificateID *string

	VerificationCount int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payload returns the hashed fields of c.
func (c *Certificate) Payload() payload.Payload {
	return payload.Payload{
		CertificateID: c.CertificateID,
		StudentName:   c.StudentName,
		CourseTitle:   c.CourseTitle,
		CompletedAt:   c.CompletedAt,
		IssuedAt:      c.IssuedAt,
	}
}

// IntegrityVerified re-derives the payload hash and compares it with the
// stored one.
func (c *Certificate) IntegrityVerified() bool {
	return payload.Matches(c.Payload(), c.PayloadHash)
}

// Clone returns a deep copy of c.
func (c *Certificate) Clone() *Certificate {
	if c == nil {
		return nil
	}
	out := *c
	out.CourseID = cloneString(c.CourseID)
	out.PDFURL = cloneString(c.PDFURL)
	out.JPGURL = cloneString(c.JPGURL)
	out.RevokedReason = cloneString(c.RevokedReason)
	out.SourceSignupID = cloneString(c.SourceSignupID)
	out.PredecessorCertificateID = cloneString(c.PredecessorCertificateID)
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// FileURLs is a partial update of a certificate's artifact references.
// Nil fields are left unchanged.
type FileURLs struct {
	PDFURL *string
	JPGURL *string
}

// Empty reports whether neither URL is set.
func (f FileURLs) Empty() bool {
	return f.PDFURL == nil && f.JPGURL == nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
