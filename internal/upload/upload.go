// Package upload validates and stores user-supplied images and documents on local disk.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"officeadmin.org/internal/auth"
	"officeadmin.org/internal/ids"
)

type Kind string

const (
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

const (
	MaxImageSize int64 = 5 << 20
	MaxFileSize  int64 = 50 << 20
	// MaxBatch caps multi-file uploads.
	MaxBatch = 10

	// PublicPrefix is the URL prefix under which stored files are addressed.
	PublicPrefix = "/uploads/"
)

var (
	imageTypes = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}
	fileTypes  = append(slices.Clone(imageTypes),
		".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".zip", ".rar", ".7z")
)

var (
	ErrUnsupportedType = fmt.Errorf("%w: unsupported file type", auth.ErrInvalidInput)
	ErrTooLarge        = fmt.Errorf("%w: file too large", auth.ErrInvalidInput)
	ErrEmpty           = fmt.Errorf("%w: no file provided", auth.ErrInvalidInput)
	ErrInvalidPath     = fmt.Errorf("%w: invalid file path", auth.ErrInvalidInput)
)

// File describes one stored upload.
type File struct {
	OriginalName string `json:"original_name"`
	FileName     string `json:"file_name"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
}

type Service struct {
	dir string
	now func() time.Time
}

// NewService stores files below dir, creating the images/ and files/ subdirectories.
func NewService(dir string) (*Service, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("upload: directory is required")
	}
	for _, sub := range []string{"images", "files"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("upload: create %s dir: %w", sub, err)
		}
	}
	return &Service{dir: dir, now: time.Now}, nil
}

func (s *Service) Dir() string { return s.dir }

// AllowedImageTypes lists accepted image extensions.
func AllowedImageTypes() []string { return slices.Clone(imageTypes) }

// AllowedFileTypes lists accepted document extensions, images included.
func AllowedFileTypes() []string { return slices.Clone(fileTypes) }

// MaxSize returns the size limit for kind.
func MaxSize(kind Kind) int64 {
	if kind == KindImage {
		return MaxImageSize
	}
	return MaxFileSize
}

// Validate checks the extension and declared size of name against the rules for kind.
func Validate(kind Kind, name string, size int64) error {
	allowed := fileTypes
	if kind == KindImage {
		allowed = imageTypes
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || !slices.Contains(allowed, ext) {
		return fmt.Errorf("%w %q, allowed: %s", ErrUnsupportedType, ext, strings.Join(allowed, ", "))
	}
	if limit := MaxSize(kind); size > limit {
		return fmt.Errorf("%w: limit is %d MiB", ErrTooLarge, limit>>20)
	}
	return nil
}

// Save validates name and writes r to disk under a generated name. The body is read at most
// to the kind's limit; longer bodies are rejected even when the declared size was smaller.
func (s *Service) Save(kind Kind, name string, size int64, r io.Reader) (File, error) {
	if r == nil || strings.TrimSpace(name) == "" {
		return File{}, ErrEmpty
	}
	if err := Validate(kind, name, size); err != nil {
		return File{}, err
	}

	sub := subdir(kind)
	target := filepath.Join(s.dir, sub)
	tmp, err := os.CreateTemp(target, ".upload-*")
	if err != nil {
		return File{}, fmt.Errorf("upload: create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("upload: read body: %w", err)
	}
	head = head[:n]

	limit := MaxSize(kind)
	written, err := io.Copy(tmp, io.LimitReader(io.MultiReader(bytes.NewReader(head), r), limit+1))
	if err != nil {
		return File{}, fmt.Errorf("upload: write file: %w", err)
	}
	if written == 0 {
		return File{}, ErrEmpty
	}
	if written > limit {
		return File{}, fmt.Errorf("%w: limit is %d MiB", ErrTooLarge, limit>>20)
	}
	if err := tmp.Close(); err != nil {
		return File{}, fmt.Errorf("upload: close file: %w", err)
	}

	fileName := s.fileName(name)
	if err := os.Rename(tmp.Name(), filepath.Join(target, fileName)); err != nil {
		return File{}, fmt.Errorf("upload: store file: %w", err)
	}
	return File{
		OriginalName: name,
		FileName:     fileName,
		Path:         path.Join(PublicPrefix, sub, fileName),
		Size:         written,
		MimeType:     mimetype.Detect(head).String(),
	}, nil
}

// Delete removes the file addressed by a public path such as /uploads/images/x.png. It reports
// false when nothing was there. Paths outside the upload directory are rejected.
func (s *Service) Delete(publicPath string) (bool, error) {
	publicPath = strings.TrimSpace(publicPath)
	if publicPath == "" {
		return false, fmt.Errorf("%w: path is required", auth.ErrInvalidInput)
	}
	if !strings.HasPrefix(publicPath, PublicPrefix) {
		return false, ErrInvalidPath
	}
	rel := path.Clean(strings.TrimPrefix(publicPath, PublicPrefix))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return false, ErrInvalidPath
	}

	full := filepath.Join(s.dir, filepath.FromSlash(rel))
	info, err := os.Lstat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upload: stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, ErrInvalidPath
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("upload: remove: %w", err)
	}
	return true, nil
}

func (s *Service) fileName(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	return fmt.Sprintf("%d_%s%s", s.now().UnixMilli(), ids.Suffix(6), ext)
}

func subdir(kind Kind) string {
	if kind == KindImage {
		return "images"
	}
	return "files"
}
