package upload

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/voyaiage/go-tourism-chatbot/internal/api"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

type HandlerImpl struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

func NewHandler(dir string, maxSizeMB int, logger *slog.Logger) (*HandlerImpl, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &HandlerImpl{
		dir:      dir,
		maxBytes: int64(maxSizeMB) << 20,
		logger:   logger,
	}, nil
}

// UploadImage handles POST /uploads. The stored name is a fresh UUID
// so uploads never collide or overwrite each other.
func (h *HandlerImpl) UploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		api.ErrorResponse(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload must not exceed %d MB", h.maxBytes>>20))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Only jpg, jpeg, png, gif and webp images are accepted")
		return
	}

	name := uuid.New().String() + ext
	dst, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to create upload file", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		h.logger.ErrorContext(ctx, "Failed to write upload file", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to store upload")
		return
	}

	h.logger.InfoContext(ctx, "Image uploaded", slog.String("file", name), slog.Int64("size", header.Size))
	api.WriteJSONResponse(w, r, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"image_url": "/uploads/" + name,
	})
}

// ServeImage handles GET /uploads/{file}. The name is cleaned and
// pinned under the upload dir so path traversal cannot escape it.
func (h *HandlerImpl) ServeImage(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(filepath.Clean(r.URL.Path))
	if name == "." || name == string(filepath.Separator) {
		api.ErrorResponse(w, r, http.StatusNotFound, "File not found")
		return
	}
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err != nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "File not found")
		return
	}
	http.ServeFile(w, r, path)
}
