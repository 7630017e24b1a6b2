// Package i18n turns message keys into localized text. Only English and
// Spanish are bundled; other locales fall back to English.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	KeyVerifyValid    = "verify.valid"
	KeyVerifyRevoked  = "verify.revoked"
	KeyVerifyReissued = "verify.reissued"

	KeyIssueCreated       = "issue.created"
	KeyIssueAlreadyIssued = "issue.already_issued"
	KeyRevokeSuccess      = "revoke.success"
	KeyReissueSuccess     = "reissue.success"
	KeyFilesUpdated       = "files.updated"
	KeyFilesRegenerated   = "files.regenerated"

	KeyErrInvalidBody    = "error.invalid_body"
	KeyErrValidation     = "error.validation"
	KeyErrMalformedID    = "error.malformed_id"
	KeyErrNotFound       = "error.not_found"
	KeyErrSignupNotFound = "error.signup_not_found"
	KeyErrNotCompleted   = "error.not_completed"
	KeyErrAlreadyRevoked = "error.already_revoked"
	KeyErrInvalidState   = "error.invalid_state"
	KeyErrConflict       = "error.conflict"
	KeyErrUnauthorized   = "error.unauthorized"
	KeyErrRateLimited    = "error.rate_limited"
	KeyErrUnavailable    = "error.unavailable"
	KeyErrInternal       = "error.internal"
)

var messages = map[language.Tag]map[string]string{
	language.English: {
		KeyVerifyValid:    "This certificate is valid.",
		KeyVerifyRevoked:  "This certificate has been revoked.",
		KeyVerifyReissued: "This certificate has been superseded by a newer certificate.",

		KeyIssueCreated:       "Certificate issued.",
		KeyIssueAlreadyIssued: "A certificate was already issued for this enrollment.",
		KeyRevokeSuccess:      "Certificate revoked.",
		KeyReissueSuccess:     "Certificate reissued.",
		KeyFilesUpdated:       "Certificate files updated.",
		KeyFilesRegenerated:   "Certificate files regenerated.",

		KeyErrInvalidBody:    "The request body is invalid.",
		KeyErrValidation:     "Some fields are invalid.",
		KeyErrMalformedID:    "The certificate identifier is malformed.",
		KeyErrNotFound:       "Certificate not found.",
		KeyErrSignupNotFound: "Enrollment not found.",
		KeyErrNotCompleted:   "The course has not been completed yet.",
		KeyErrAlreadyRevoked: "The certificate is already revoked.",
		KeyErrInvalidState:   "The certificate cannot be changed in its current state.",
		KeyErrConflict:       "The certificate identifier is already in use.",
		KeyErrUnauthorized:   "Authentication is required.",
		KeyErrRateLimited:    "Too many requests. Please try again later.",
		KeyErrUnavailable:    "This feature is not available.",
		KeyErrInternal:       "Something went wrong. Please try again later.",
	},
	language.Spanish: {
		KeyVerifyValid:    "Este certificado es válido.",
		KeyVerifyRevoked:  "Este certificado ha sido revocado.",
		KeyVerifyReissued: "Este certificado ha sido reemplazado por uno más reciente.",

		KeyIssueCreated:       "Certificado emitido.",
		KeyIssueAlreadyIssued: "Ya se emitió un certificado para esta inscripción.",
		KeyRevokeSuccess:      "Certificado revocado.",
		KeyReissueSuccess:     "Certificado reemitido.",
		KeyFilesUpdated:       "Archivos del certificado actualizados.",
		KeyFilesRegenerated:   "Archivos del certificado regenerados.",

		KeyErrInvalidBody:    "El cuerpo de la solicitud no es válido.",
		KeyErrValidation:     "Algunos campos no son válidos.",
		KeyErrMalformedID:    "El identificador del certificado no tiene un formato válido.",
		KeyErrNotFound:       "Certificado no encontrado.",
		KeyErrSignupNotFound: "Inscripción no encontrada.",
		KeyErrNotCompleted:   "El curso aún no ha sido completado.",
		KeyErrAlreadyRevoked: "El certificado ya está revocado.",
		KeyErrInvalidState:   "El certificado no puede modificarse en su estado actual.",
		KeyErrConflict:       "El identificador del certificado ya está en uso.",
		KeyErrUnauthorized:   "Se requiere autenticación.",
		KeyErrRateLimited:    "Demasiadas solicitudes. Inténtalo de nuevo más tarde.",
		KeyErrUnavailable:    "Esta función no está disponible.",
		KeyErrInternal:       "Algo salió mal. Inténtalo de nuevo más tarde.",
	},
}

// Translator resolves locales and renders message keys.
type Translator struct {
	catalog *catalog.Builder
	matcher language.Matcher
	tags    []language.Tag
}

// New builds a Translator over the bundled messages.
func New() (*Translator, error) {
	tags := []language.Tag{language.English, language.Spanish}
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, tag := range tags {
		for key, msg := range messages[tag] {
			if err := b.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("catalog %s/%s: %w", tag, key, err)
			}
		}
	}
	return &Translator{catalog: b, matcher: language.NewMatcher(tags), tags: tags}, nil
}

// Resolve picks a supported locale. An explicit query value wins over the
// Accept-Language header; anything unparseable falls back to English.
func (t *Translator) Resolve(query, acceptLanguage string) language.Tag {
	var prefs []language.Tag
	if query != "" {
		if tag, err := language.Parse(query); err == nil {
			prefs = append(prefs, tag)
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			prefs = append(prefs, tags...)
		}
	}
	if len(prefs) == 0 {
		return language.English
	}
	_, idx, conf := t.matcher.Match(prefs...)
	if conf == language.No {
		return language.English
	}
	return t.tags[idx]
}

// Message renders key in locale. Unknown keys are returned unchanged.
func (t *Translator) Message(locale language.Tag, key string) string {
	p := message.NewPrinter(locale, message.Catalog(t.catalog))
	return p.Sprintf(key)
}
