package upload

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"officeadmin.org/internal/auth"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(t.TempDir())
	require.NoError(t, err)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return svc
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		file string
		size int64
		err  error
	}{
		{"image ok", KindImage, "photo.PNG", 1024, nil},
		{"image rejects pdf", KindImage, "doc.pdf", 1024, ErrUnsupportedType},
		{"image too large", KindImage, "photo.jpg", MaxImageSize + 1, ErrTooLarge},
		{"file accepts pdf", KindFile, "report.pdf", MaxImageSize + 1, nil},
		{"file accepts image", KindFile, "logo.svg", 10, nil},
		{"file rejects exe", KindFile, "setup.exe", 10, ErrUnsupportedType},
		{"no extension", KindFile, "README", 10, ErrUnsupportedType},
		{"file too large", KindFile, "big.zip", MaxFileSize + 1, ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.kind, tc.file, tc.size)
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
			assert.ErrorIs(t, err, auth.ErrInvalidInput)
		})
	}
}

func TestSaveImage(t *testing.T) {
	svc := newService(t)
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 64)...)

	f, err := svc.Save(KindImage, "Avatar.PNG", int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, "Avatar.PNG", f.OriginalName)
	assert.True(t, strings.HasPrefix(f.FileName, "1700000000000_"), f.FileName)
	assert.True(t, strings.HasSuffix(f.FileName, ".png"), f.FileName)
	assert.Len(t, f.FileName, len("1700000000000_")+6+len(".png"))
	assert.Equal(t, "/uploads/images/"+f.FileName, f.Path)
	assert.Equal(t, int64(len(body)), f.Size)
	assert.Equal(t, "image/png", f.MimeType)

	stored, err := os.ReadFile(filepath.Join(svc.Dir(), "images", f.FileName))
	require.NoError(t, err)
	assert.Equal(t, body, stored)
}

func TestSaveRejectsOversizedBody(t *testing.T) {
	svc := newService(t)
	body := bytes.Repeat([]byte("a"), int(MaxImageSize)+1)

	_, err := svc.Save(KindImage, "big.png", 10, bytes.NewReader(body))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(filepath.Join(svc.Dir(), "images"))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads leave nothing behind")
}

func TestSaveRejectsEmpty(t *testing.T) {
	svc := newService(t)
	_, err := svc.Save(KindFile, "notes.txt", 0, bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDelete(t *testing.T) {
	svc := newService(t)
	f, err := svc.Save(KindFile, "notes.txt", 5, strings.NewReader("hello"))
	require.NoError(t, err)

	removed, err := svc.Delete(f.Path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.Delete(f.Path)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeleteRejectsEscapes(t *testing.T) {
	svc := newService(t)
	outside := filepath.Join(filepath.Dir(svc.Dir()), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	for _, p := range []string{
		"",
		"/etc/passwd",
		"uploads/files/a.txt",
		"/uploads/",
		"/uploads/../keep.txt",
		"/uploads/files/../../keep.txt",
		"/uploads/images",
	} {
		_, err := svc.Delete(p)
		assert.ErrorIs(t, err, auth.ErrInvalidInput, p)
	}
	_, err := os.Stat(outside)
	assert.NoError(t, err)
}

func TestAllowedTypes(t *testing.T) {
	images := AllowedImageTypes()
	files := AllowedFileTypes()
	assert.Len(t, images, 6)
	assert.Len(t, files, 17)
	for _, ext := range images {
		assert.Contains(t, files, ext)
	}
	images[0] = ".mutated"
	assert.Equal(t, ".jpg", AllowedImageTypes()[0])
}
