package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names an audited action.
type EventType string

const (
	EventIssued       EventType = "issued"
	EventVerified     EventType = "verified"
	EventRevoked      EventType = "revoked"
	EventReissued     EventType = "reissued"
	EventFilesUpdated EventType = "files_updated"
)

// ActorType classifies who performed an audited action.
type ActorType string

const (
	ActorSystem    ActorType = "system"
	ActorAdmin     ActorType = "admin"
	ActorAnonymous ActorType = "anonymous"
)

// Issuance sources recorded in IssuedMetadata.
const (
	SourceSignup  = "signup"
	SourceManual  = "manual"
	SourceReissue = "reissue"
)

// Actor identifies the caller of an operation.
type Actor struct {
	Type ActorType
	ID   *string
}

// ActorFor returns an admin actor when id is non-empty, system otherwise.
func ActorFor(id string) Actor {
	if id == "" {
		return Actor{Type: ActorSystem}
	}
	return Actor{Type: ActorAdmin, ID: &id}
}

// Anonymous is the actor of public verification lookups.
func Anonymous() Actor {
	return Actor{Type: ActorAnonymous}
}

// AuditEvent is an append-only record of an action on a certificate.
type AuditEvent struct {
	ID              int64
	CertificateUUID string
	CertificateID   string
	EventType       EventType
	ActorType       ActorType
	ActorID         *string
	Metadata        AuditMetadata
	OccurredAt      time.Time
}

// AuditMetadata is the per-event payload. Each event type has exactly one
// implementation.
type AuditMetadata interface {
	EventType() EventType
}

type IssuedMetadata struct {
	Source                   string  `json:"source"`
	SignupID                 *string `json:"signup_id,omitempty"`
	PredecessorCertificateID *string `json:"predecessor_certificate_id,omitempty"`
	PayloadHash              string  `json:"payload_hash"`
}

func (IssuedMetadata) EventType() EventType { return EventIssued }

type VerifiedMetadata struct {
	IPAddress         string `json:"ip_address,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`
	IntegrityVerified bool   `json:"integrity_verified"`
}

func (VerifiedMetadata) EventType() EventType { return EventVerified }

type RevokedMetadata struct {
	Reason  string  `json:"reason"`
	ActorID *string `json:"actor_id,omitempty"`
}

func (RevokedMetadata) EventType() EventType { return EventRevoked }

type ReissuedMetadata struct {
	NewCertificateID string `json:"new_certificate_id"`
	NameCorrected    bool   `json:"name_corrected"`
}

func (ReissuedMetadata) EventType() EventType { return EventReissued }

// FilesUpdatedMetadata records which references changed, not the URLs.
type FilesUpdatedMetadata struct {
	PDFURL      bool `json:"pdf_url"`
	JPGURL      bool `json:"jpg_url"`
	Regenerated bool `json:"regenerated,omitempty"`
}

func (FilesUpdatedMetadata) EventType() EventType { return EventFilesUpdated }

func newEvent(c *Certificate, actor Actor, md AuditMetadata, at time.Time) *AuditEvent {
	return &AuditEvent{
		CertificateUUID: c.ID,
		CertificateID:   c.CertificateID,
		EventType:       md.EventType(),
		ActorType:       actor.Type,
		ActorID:         actor.ID,
		Metadata:        md,
		OccurredAt:      at.UTC(),
	}
}

func NewIssuedEvent(c *Certificate, actor Actor, md IssuedMetadata, at time.Time) *AuditEvent {
	return newEvent(c, actor, md, at)
}

func NewVerifiedEvent(c *Certificate, md VerifiedMetadata, at time.Time) *AuditEvent {
	return newEvent(c, Anonymous(), md, at)
}

func NewRevokedEvent(c *Certificate, actor Actor, md RevokedMetadata, at time.Time) *AuditEvent {
	return newEvent(c, actor, md, at)
}

func NewReissuedEvent(c *Certificate, actor Actor, md ReissuedMetadata, at time.Time) *AuditEvent {
	return newEvent(c, actor, md, at)
}

func NewFilesUpdatedEvent(c *Certificate, actor Actor, md FilesUpdatedMetadata, at time.Time) *AuditEvent {
	return newEvent(c, actor, md, at)
}

// EncodeAuditMetadata serializes md for storage.
func EncodeAuditMetadata(md AuditMetadata) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode %s metadata: %w", md.EventType(), err)
	}
	return b, nil
}

// DecodeAuditMetadata restores the typed metadata stored for eventType.
func DecodeAuditMetadata(eventType EventType, raw []byte) (AuditMetadata, error) {
	var (
		md  AuditMetadata
		err error
	)
	switch eventType {
	case EventIssued:
		var v IssuedMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case EventVerified:
		var v VerifiedMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case EventRevoked:
		var v RevokedMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case EventReissued:
		var v ReissuedMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	case EventFilesUpdated:
		var v FilesUpdatedMetadata
		err = json.Unmarshal(raw, &v)
		md = v
	default:
		return nil, fmt.Errorf("unknown audit event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", eventType, err)
	}
	return md, nil
}
