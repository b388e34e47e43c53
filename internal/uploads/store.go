// Package uploads stores images attached to posts on the local filesystem.
package uploads

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"blogger/internal/models"
	"blogger/internal/observability"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Upload describes a stored file.
type Upload struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Store validates uploads against an extension allow-list and their sniffed
// content type, then writes them under Dir with a generated name.
type Store struct {
	dir        string
	urlPrefix  string
	extensions []string
	maxBytes   int64
}

func NewStore(dir, urlPrefix string, extensions []string, maxBytes int64) *Store {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		exts = append(exts, canonicalExt(e))
	}
	return &Store{
		dir:        dir,
		urlPrefix:  "/" + strings.Trim(urlPrefix, "/"),
		extensions: exts,
		maxBytes:   maxBytes,
	}
}

// Dir is the directory uploads are written to.
func (s *Store) Dir() string { return s.dir }

// Save checks filename and content and stores the file. The stored name never
// reuses any part of the client filename.
func (s *Store) Save(ctx context.Context, filename string, content []byte) (*Upload, error) {
	if len(content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(content)) > s.maxBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxBytes/(1024*1024)))
	}

	declared := canonicalExt(filepath.Ext(filename))
	if !slices.Contains(s.extensions, declared) {
		return nil, models.NewValidationError(fmt.Sprintf("File type %q is not allowed", strings.TrimPrefix(filepath.Ext(filename), ".")))
	}

	mt := mimetype.Detect(content)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, models.NewValidationError("Invalid image file")
	}
	sniffed := canonicalExt(mt.Extension())
	if sniffed != declared {
		return nil, models.NewValidationError("Image content does not match its extension")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	name := id.String() + "." + sniffed
	if err := writeFileAtomic(filepath.Join(s.dir, name), content); err != nil {
		return nil, models.NewInternalError(err)
	}

	observability.Logger.InfoContext(ctx, "upload stored",
		slog.String("name", name), slog.String("mime_type", mt.String()), slog.Int("size", len(content)))
	return &Upload{
		Name:     name,
		URL:      path.Join(s.urlPrefix, name),
		MimeType: mt.String(),
		Size:     int64(len(content)),
	}, nil
}

// canonicalExt lower-cases an extension, drops the dot and folds jpeg into jpg.
func canonicalExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

func writeFileAtomic(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o640); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
