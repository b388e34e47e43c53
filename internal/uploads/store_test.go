package uploads

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blogger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func gifBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), "/uploads/", []string{"png", ".JPG", "jpeg", "gif"}, 1024*1024)
}

func TestSave_StoresImage(t *testing.T) {
	s := newStore(t)
	content := pngBytes(t)

	up, err := s.Save(context.Background(), "Holiday Photo.PNG", content)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(up.Name, ".png"))
	assert.NotContains(t, up.Name, "Holiday")
	assert.Equal(t, "/uploads/"+up.Name, up.URL)
	assert.Equal(t, "image/png", up.MimeType)
	assert.Equal(t, int64(len(content)), up.Size)

	stored, err := os.ReadFile(filepath.Join(s.Dir(), up.Name))
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSave_Rejects(t *testing.T) {
	s := NewStore(t.TempDir(), "/uploads", []string{"png", "jpg"}, 1024)
	small := pngBytes(t)
	require.LessOrEqual(t, len(small), 1024)

	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"empty", "a.png", nil},
		{"too large", "a.png", bytes.Repeat([]byte{0x89}, 1025)},
		{"extension not allowed", "a.gif", gifBytes(t)},
		{"no extension", "a", small},
		{"not an image", "a.png", []byte("<html>hi</html>")},
		{"extension mismatch", "a.jpg", small},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Save(context.Background(), tt.filename, tt.content)
			assert.True(t, models.IsCode(err, models.CodeValidation), "got %v", err)
		})
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCanonicalExt(t *testing.T) {
	assert.Equal(t, "jpg", canonicalExt(".JPEG"))
	assert.Equal(t, "jpg", canonicalExt("jpg"))
	assert.Equal(t, "png", canonicalExt(" .Png "))
}
