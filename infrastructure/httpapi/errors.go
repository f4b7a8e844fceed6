package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ahrav/go-cubecomp/internal/application"
	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

// errMissingActor is returned when a management route is called without an
// actor id.
var errMissingActor = errors.New("missing actor id")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string   `json:"error"`
	Details    []string `json:"details,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		maxBytes *http.MaxBytesError
		verr     *domain.ValidationError
		fieldErr validator.ValidationErrors
	)

	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errMissingActor):
		return http.StatusUnauthorized
	case errors.As(err, &verr), errors.As(err, &fieldErr),
		errors.Is(err, domain.ErrInvalidTimeFormat),
		errors.Is(err, domain.ErrAttemptCountMismatch),
		errors.Is(err, application.ErrInvalidAttemptNumber),
		errors.Is(err, application.ErrInvalidRequest),
		errors.Is(err, application.ErrDisciplineNotInCompetition):
		return http.StatusBadRequest
	case errors.Is(err, ports.ErrNotFound),
		errors.Is(err, application.ErrUnknownDiscipline),
		errors.Is(err, application.ErrNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, application.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ports.ErrConflict),
		errors.Is(err, application.ErrCompetitionClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError writes err as a JSON error body. Server errors are logged and
// their message is not exposed.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Details = verr.Errors
	}
	var unknown *application.UnknownDisciplineError
	if errors.As(err, &unknown) {
		body.Suggestion = unknown.Suggestion
	}

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
		body = errorBody{Error: http.StatusText(status)}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text + "\n"))
}
