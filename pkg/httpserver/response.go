package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jaywantadh/syncly/internal/chunker"
	"github.com/jaywantadh/syncly/internal/metadata"
	"github.com/jaywantadh/syncly/internal/storage"
	"github.com/jaywantadh/syncly/internal/transfer"
	"github.com/jaywantadh/syncly/pkg/validator"
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CommonResponse struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Classify maps an engine error to an HTTP status and a stable error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, validator.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, metadata.ErrManifestNotFound):
		return http.StatusNotFound, "manifest.not_found"
	case errors.Is(err, metadata.ErrManifestCorrupt):
		return http.StatusUnprocessableEntity, "manifest.corrupt"
	case errors.Is(err, metadata.ErrManifestInvalid), errors.Is(err, transfer.ErrInvalidManifest):
		return http.StatusUnprocessableEntity, "manifest.invalid"
	case errors.Is(err, chunker.ErrInvalidChunkSize):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, transfer.ErrSourceRead):
		return http.StatusBadRequest, "source.read"
	case errors.Is(err, storage.ErrQuotaExceeded):
		return http.StatusInsufficientStorage, "storage.quota_exceeded"
	case errors.Is(err, storage.ErrUnauthorized):
		return http.StatusBadGateway, "storage.unauthorized"
	case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "storage.unavailable"
	case errors.Is(err, transfer.ErrTruncatedTransfer):
		return http.StatusBadGateway, "transfer.truncated"
	case errors.Is(err, transfer.ErrCorruptTransfer):
		return http.StatusBadGateway, "transfer.corrupt"
	case errors.Is(err, transfer.ErrCancelled):
		return 499, "transfer.cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func fromError(c echo.Context, err error) error {
	status, code := Classify(err)
	return c.JSON(status, CommonResponse{Error: &Error{Code: code, Message: err.Error()}})
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, CommonResponse{Data: data})
}
