package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/classifyd/internal/common"
)

type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: errs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status and message clients rely on.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *common.RateLimitError
	switch {
	case errors.Is(err, common.ErrMissingCredential):
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "API Key header is missing", nil)

	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrPrincipalNotFound):
		w.Header().Set("WWW-Authenticate", "Bearer")
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "Could not validate credentials", nil)

	case errors.Is(err, common.ErrorUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "Incorrect username or password", nil)

	case errors.Is(err, common.ErrInvalidCredential):
		WriteProblem(w, http.StatusForbidden, "forbidden", "Invalid API Key", nil)

	case errors.Is(err, common.ErrExpiredCredential):
		WriteProblem(w, http.StatusForbidden, "forbidden", "API Key has expired", nil)

	case errors.Is(err, common.ErrInactivePrincipal):
		WriteProblem(w, http.StatusForbidden, "forbidden", "Inactive user", nil)

	case errors.Is(err, common.ErrInsufficientScope):
		WriteProblem(w, http.StatusForbidden, "forbidden", "Not enough permissions", nil)

	case errors.Is(err, common.ErrorNotFound):
		WriteProblem(w, http.StatusNotFound, "not found", "Not found", nil)

	case errors.Is(err, common.ErrPayloadTooLarge):
		WriteProblem(w, http.StatusRequestEntityTooLarge, "payload too large",
			fmt.Sprintf("File size exceeds %d KB limit", s.maxUploadBytes()/1024), nil)

	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
		detail := "Too Many Requests by your api key"
		if rl.Dimension == common.DimensionIP {
			detail = "Too Many Requests from your ip"
		}
		WriteProblem(w, http.StatusTooManyRequests, "too many requests", detail, nil)

	case errors.Is(err, common.ErrSaturated):
		WriteProblem(w, http.StatusServiceUnavailable, "service unavailable", "Task queue is full. Try another time.", nil)

	case errors.Is(err, common.ErrRateLimiterUnavailable):
		WriteProblem(w, http.StatusServiceUnavailable, "service unavailable", "Rate limiter unavailable. Try another time.", nil)

	case errors.Is(err, common.ErrorAlreadyExists):
		WriteProblem(w, http.StatusConflict, "conflict", "Already exists", nil)

	case errors.Is(err, common.ErrorValidation), errors.Is(err, common.ErrTooManyAPIKeys):
		WriteProblem(w, http.StatusBadRequest, "bad request", err.Error(), nil)

	default:
		s.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteProblem(w, http.StatusInternalServerError, "internal error", "Internal server error", nil)
	}
}
