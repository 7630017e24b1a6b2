package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/certkeeper/internal/common"
	"github.com/dmitrijs2005/certkeeper/internal/server/i18n"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// notFoundStatus differs per endpoint: lifecycle commands answer 400, reads 404.
type notFoundStatus int

const (
	notFoundAsBadRequest notFoundStatus = http.StatusBadRequest
	notFoundAsNotFound   notFoundStatus = http.StatusNotFound
)

type apiError struct {
	status int
	code   string
	key    string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, e apiError, fields map[string]string) {
	writeJSON(w, e.status, ErrorResponse{
		Code:    e.code,
		Message: a.translator.Message(localeFrom(r.Context()), e.key),
		Fields:  fields,
	})
}

var (
	errInvalidBody  = apiError{http.StatusBadRequest, "invalid_body", i18n.KeyErrInvalidBody}
	errUnauthorized = apiError{http.StatusUnauthorized, "unauthorized", i18n.KeyErrUnauthorized}
	errRateLimited  = apiError{http.StatusTooManyRequests, "rate_limited", i18n.KeyErrRateLimited}
	errInternal     = apiError{http.StatusInternalServerError, "internal", i18n.KeyErrInternal}
)

// classify maps service errors onto HTTP responses.
func classify(err error, nf notFoundStatus) apiError {
	var ve *common.ValidationError
	switch {
	case errors.As(err, &ve) && ve.Field == "certificate_id":
		return apiError{http.StatusBadRequest, "malformed_id", i18n.KeyErrMalformedID}
	case errors.Is(err, common.ErrorValidation):
		return apiError{http.StatusBadRequest, "validation_error", i18n.KeyErrValidation}
	case errors.Is(err, common.ErrSignupNotFound):
		return apiError{http.StatusBadRequest, "signup_not_found", i18n.KeyErrSignupNotFound}
	case errors.Is(err, common.ErrorNotFound):
		return apiError{int(nf), "not_found", i18n.KeyErrNotFound}
	case errors.Is(err, common.ErrNotCompleted):
		return apiError{http.StatusBadRequest, "not_completed", i18n.KeyErrNotCompleted}
	case errors.Is(err, common.ErrAlreadyRevoked):
		return apiError{http.StatusBadRequest, "already_revoked", i18n.KeyErrAlreadyRevoked}
	case errors.Is(err, common.ErrInvalidState):
		return apiError{http.StatusBadRequest, "invalid_state", i18n.KeyErrInvalidState}
	case errors.Is(err, common.ErrorConflict):
		return apiError{http.StatusConflict, "conflict", i18n.KeyErrConflict}
	case errors.Is(err, common.ErrRateLimited):
		return errRateLimited
	case errors.Is(err, common.ErrUnavailable):
		return apiError{http.StatusServiceUnavailable, "unavailable", i18n.KeyErrUnavailable}
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized):
		return errUnauthorized
	default:
		return errInternal
	}
}

// mapError writes the response for err. Server errors are logged and
// their details withheld from the client.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error, nf notFoundStatus) {
	e := classify(err, nf)
	if e.status >= http.StatusInternalServerError && e.status != http.StatusServiceUnavailable {
		a.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	a.writeError(w, r, e, validationFields(err))
}

func validationFields(err error) map[string]string {
	var many common.ValidationErrors
	if errors.As(err, &many) {
		return many.Fields()
	}
	var one *common.ValidationError
	if errors.As(err, &one) && one.Field != "" {
		return map[string]string{one.Field: one.Reason}
	}
	return nil
}
