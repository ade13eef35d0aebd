package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

const internalErrorMessage = "internal server error"

var errInvalidBody = errors.New("invalid request body")

// statusFor сопоставляет категорию ошибки с HTTP-статусом.
// Приоритет категорий задаёт domain.Kind: ссылка на несуществующую
// сущность во входных данных даёт 400, а не 404.
func statusFor(err error) int {
	if errors.Is(err, errInvalidBody) {
		return http.StatusBadRequest
	}
	switch domain.Kind(err) {
	case domain.ErrInvalidOrder,
		domain.ErrInvalidProduct,
		domain.ErrInvalidCategory,
		domain.ErrPaymentRejected,
		domain.ErrPaymentProcessingFailed:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.WithError(err).WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
		message = internalErrorMessage
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid request body"), errInvalidBody)
	}
	return nil
}
