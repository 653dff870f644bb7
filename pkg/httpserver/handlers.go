package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/jaywantadh/syncly/internal/metadata"
)

type UploadRequest struct {
	Name      string `form:"name" validate:"omitempty,max=1024"`
	ChunkSize int64  `form:"chunk_size" validate:"gte=0,lte=1073741824"`
}

type UploadResponse struct {
	ManifestID string `json:"manifest_id"`
	UploadID   string `json:"upload_id"`
	Chunks     int    `json:"chunks"`
	Size       int64  `json:"size"`
}

type DeleteRequest struct {
	Purge bool `query:"purge"`
}

func (h *Handler) Health(c echo.Context) error {
	return ok(c, http.StatusOK, map[string]string{"status": "ok"})
}

// Upload accepts a multipart form with a "file" part.
func (h *Handler) Upload(c echo.Context) error {
	var req UploadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, CommonResponse{Error: &Error{Code: "bind", Message: err.Error()}})
	}
	if err := c.Validate(&req); err != nil {
		return fromError(c, err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, CommonResponse{Error: &Error{Code: "bind", Message: "missing file part"}})
	}
	f, err := fh.Open()
	if err != nil {
		return fromError(c, err)
	}
	defer f.Close()

	name := req.Name
	if name == "" {
		name = fh.Filename
	}

	m, err := h.core.UploadStream(c.Request().Context(), name, f, req.ChunkSize)
	if err != nil {
		return fromError(c, err)
	}
	return ok(c, http.StatusCreated, UploadResponse{
		ManifestID: m.SourceName,
		UploadID:   m.UploadID,
		Chunks:     m.NumChunks(),
		Size:       m.TotalSize,
	})
}

// Download rebuilds the file into a temp location and serves it once complete,
// so clients never receive a partial body with a success status.
func (h *Handler) Download(c echo.Context) error {
	name, err := nameParam(c)
	if err != nil {
		return fromError(c, err)
	}

	dir, err := os.MkdirTemp("", "syncly-download-*")
	if err != nil {
		return fromError(c, err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "file")
	if err := h.core.DownloadAndMerge(c.Request().Context(), name, out); err != nil {
		return fromError(c, err)
	}
	return c.Attachment(out, path.Base(name))
}

func (h *Handler) ListManifests(c echo.Context) error {
	var q metadata.SearchQuery
	if err := c.Bind(&q); err != nil {
		return c.JSON(http.StatusBadRequest, CommonResponse{Error: &Error{Code: "bind", Message: err.Error()}})
	}
	if err := c.Validate(&q); err != nil {
		return fromError(c, err)
	}

	list, err := h.core.List(c.Request().Context(), q)
	if err != nil {
		return fromError(c, err)
	}
	if list == nil {
		list = []*metadata.Manifest{}
	}
	return ok(c, http.StatusOK, list)
}

func (h *Handler) GetManifest(c echo.Context) error {
	name, err := nameParam(c)
	if err != nil {
		return fromError(c, err)
	}
	m, err := h.core.Manifest(c.Request().Context(), name)
	if err != nil {
		return fromError(c, err)
	}
	return ok(c, http.StatusOK, m)
}

func (h *Handler) DeleteManifest(c echo.Context) error {
	name, err := nameParam(c)
	if err != nil {
		return fromError(c, err)
	}
	var req DeleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, CommonResponse{Error: &Error{Code: "bind", Message: err.Error()}})
	}
	if err := h.core.Remove(c.Request().Context(), name, req.Purge); err != nil {
		return fromError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListTransfers(c echo.Context) error {
	return ok(c, http.StatusOK, h.core.Transfers())
}

func (h *Handler) DeleteTransfer(c echo.Context) error {
	if !h.core.ForgetTransfer(c.Param("id")) {
		return c.JSON(http.StatusNotFound, CommonResponse{Error: &Error{Code: "transfer.not_found", Message: "unknown transfer"}})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Usage(c echo.Context) error {
	u, supported, err := h.core.Usage(c.Request().Context())
	if err != nil {
		return fromError(c, err)
	}
	if !supported {
		return c.JSON(http.StatusNotImplemented, CommonResponse{Error: &Error{Code: "usage.unsupported", Message: "backend does not report usage"}})
	}
	return ok(c, http.StatusOK, u)
}

func nameParam(c echo.Context) (string, error) {
	name, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%w: manifest name is required", metadata.ErrManifestNotFound)
	}
	return name, nil
}
