package httpapi

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/upload"
)

const multipartMemory = 8 << 20

type deleteUploadRequest struct {
	Path string `json:"path" validate:"required"`
}

// handleUploadSingle stores the "file" form field.
func (a *API) handleUploadSingle(kind upload.Kind) http.HandlerFunc {
	h := func(w http.ResponseWriter, r *http.Request) {
		form, ok := a.parseUploadForm(w, r)
		if !ok {
			return
		}
		headers := form.File["file"]
		if len(headers) == 0 {
			handleError(w, r, upload.ErrEmpty)
			return
		}
		stored, err := a.saveUpload(kind, headers[0])
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	}
	return limitBody(h, upload.MaxSize(kind))
}

// handleUploadBatch stores every "files" form field, at most upload.MaxBatch of them. All
// parts are validated before anything is written.
func (a *API) handleUploadBatch(kind upload.Kind) http.HandlerFunc {
	h := func(w http.ResponseWriter, r *http.Request) {
		form, ok := a.parseUploadForm(w, r)
		if !ok {
			return
		}
		headers := form.File["files"]
		if len(headers) == 0 {
			handleError(w, r, upload.ErrEmpty)
			return
		}
		if len(headers) > upload.MaxBatch {
			handleError(w, r, fmt.Errorf("%w: at most %d files per request", auth.ErrInvalidInput, upload.MaxBatch))
			return
		}
		for _, fh := range headers {
			if err := upload.Validate(kind, fh.Filename, fh.Size); err != nil {
				handleError(w, r, fmt.Errorf("%s: %w", fh.Filename, err))
				return
			}
		}
		stored := make([]upload.File, 0, len(headers))
		for _, fh := range headers {
			f, err := a.saveUpload(kind, fh)
			if err != nil {
				handleError(w, r, fmt.Errorf("%s: %w", fh.Filename, err))
				return
			}
			stored = append(stored, f)
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": stored})
	}
	return limitBody(h, upload.MaxSize(kind)*upload.MaxBatch)
}

func (a *API) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	var req deleteUploadRequest
	if !bind(w, r, &req) {
		return
	}
	deleted, err := a.uploads.Delete(req.Path)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "deleted": deleted})
}

func (a *API) parseUploadForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			handleError(w, r, fmt.Errorf("%w: request body exceeds %d MiB", upload.ErrTooLarge, tooLarge.Limit>>20))
		case errors.Is(err, http.ErrNotMultipart):
			writeError(w, r, http.StatusBadRequest, "expected multipart/form-data body")
		default:
			writeError(w, r, http.StatusBadRequest, "malformed multipart body")
		}
		return nil, false
	}
	if r.MultipartForm == nil {
		handleError(w, r, upload.ErrEmpty)
		return nil, false
	}
	return r.MultipartForm, true
}

func (a *API) saveUpload(kind upload.Kind, fh *multipart.FileHeader) (upload.File, error) {
	src, err := fh.Open()
	if err != nil {
		return upload.File{}, fmt.Errorf("open upload part: %w", err)
	}
	defer src.Close()
	return a.uploads.Save(kind, fh.Filename, fh.Size, src)
}

// limitBody caps the whole multipart body at the payload limit plus room for headers.
func limitBody(h http.HandlerFunc, payload int64) http.HandlerFunc {
	limited := MaxBodyBytes(h, payload+(1<<20))
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()
		limited.ServeHTTP(w, r)
	}
}
