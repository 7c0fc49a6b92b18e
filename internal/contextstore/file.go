package contextstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

const defaultExtension = ".md"

// FileStore resolves identifiers to objects under a base URL using afs, so the
// same store works for local paths, file://, mem:// and any other scheme afs
// has a registered manager for. Identifier "guides/a11y" maps to
// <baseURL>/guides/a11y.md.
type FileStore struct {
	fs        afs.Service
	baseURL   string
	extension string
}

// NewFileStore creates a store rooted at baseURL. An empty extension defaults to ".md".
func NewFileStore(baseURL, extension string) *FileStore {
	return NewFileStoreWithService(afs.New(), baseURL, extension)
}

// NewFileStoreWithService is NewFileStore with a caller-provided afs service.
// A relative local path is resolved against the working directory.
func NewFileStoreWithService(fs afs.Service, baseURL, extension string) *FileStore {
	if !strings.Contains(baseURL, "://") && !filepath.IsAbs(baseURL) {
		if abs, err := filepath.Abs(baseURL); err == nil {
			baseURL = abs
		}
	}
	extension = strings.TrimSpace(extension)
	if extension == "" {
		extension = defaultExtension
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return &FileStore{
		fs:        fs,
		baseURL:   strings.TrimRight(baseURL, "/"),
		extension: extension,
	}
}

// URL returns the location an identifier resolves to.
func (s *FileStore) URL(id string) string {
	name := strings.TrimSpace(id)
	if !strings.HasSuffix(name, s.extension) {
		name += s.extension
	}
	return url.Join(s.baseURL, name)
}

func (s *FileStore) Fetch(ctx context.Context, id string) (Document, error) {
	if err := ValidateID(id); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrContextNotFound, err)
	}
	location := s.URL(id)

	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return Document{}, fmt.Errorf("check %s: %w", location, err)
	}
	if !exists {
		return Document{}, NotFound(id)
	}

	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return Document{}, fmt.Errorf("download %s: %w", location, err)
	}
	return Document{
		ID:       id,
		Content:  string(data),
		Metadata: map[string]string{"source": location},
	}, nil
}
