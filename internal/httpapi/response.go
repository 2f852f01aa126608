package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joao-fontenele/foodflow/internal/apperr"
)

type successBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type ErrorDetail struct {
	Kind       apperr.Kind `json:"kind"`
	Code       apperr.Code `json:"code"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Timestamp  time.Time   `json:"timestamp"`
}

type errorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// Responder writes the JSON envelope shared by every endpoint.
type Responder struct {
	logger *zap.Logger
}

func NewResponder(logger *zap.Logger) *Responder {
	return &Responder{logger: logger}
}

func (rs *Responder) JSON(w http.ResponseWriter, status int, data any) {
	rs.write(w, status, successBody{Success: true, Data: data})
}

func (rs *Responder) Message(w http.ResponseWriter, status int, message string, data any) {
	rs.write(w, status, successBody{Success: true, Data: data, Message: message})
}

func (rs *Responder) NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error maps err to a status code by kind. Internal errors are logged and
// their message replaced so no infrastructure detail leaks to the caller.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{
		Kind:      apperr.KindInternal,
		Code:      apperr.CodeInternal,
		Message:   "internal server error",
		Timestamp: time.Now().UTC(),
	}

	if e, ok := apperr.As(err); ok && e.Kind != apperr.KindInternal {
		detail.Kind = e.Kind
		detail.Code = e.Code
		detail.Message = e.Message
	} else {
		rs.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	detail.StatusCode = apperr.HTTPStatus(detail.Kind)

	rs.write(w, detail.StatusCode, errorBody{Success: false, Error: detail})
}

func (rs *Responder) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rs.logger.Error("failed to encode response", zap.Error(err))
	}
}

// DecodeJSON decodes the request body into dst. An empty body leaves dst
// untouched.
func DecodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Validation(apperr.CodeInvalidInput, "invalid request body: %v", err)
	}
	return nil
}

// PathUUID returns the named chi URL parameter after checking it is a UUID.
func PathUUID(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if _, err := uuid.Parse(raw); err != nil {
		return "", apperr.Validation(apperr.CodeInvalidInput, "%s must be a valid uuid", name)
	}
	return raw, nil
}

func ValidateUUID(field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, "%s must be a valid uuid", field)
	}
	return nil
}

// MaxPage bounds page so (page-1)*limit always fits an SQL OFFSET.
const MaxPage = 1_000_000

// Pagination parses page and limit query parameters with defaults 1 and 10;
// limit is capped at 100 and page may not exceed MaxPage.
func Pagination(r *http.Request) (page, limit int, err error) {
	page, limit = 1, 10
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, apperr.Validation(apperr.CodeInvalidInput, "page must be a positive integer")
		}
		if page > MaxPage {
			return 0, 0, apperr.Validation(apperr.CodeInvalidInput, "page must not exceed %d", MaxPage)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, apperr.Validation(apperr.CodeInvalidInput, "limit must be a positive integer")
		}
	}
	return page, min(limit, 100), nil
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}
