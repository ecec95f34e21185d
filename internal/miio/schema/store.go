package schema

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

//go:embed defaults/*.json
var defaultsFS embed.FS

const documentExt = ".json"

// Handle is a located schema document that has not been read yet.
type Handle interface {
	// Name identifies the document within its store (the file name).
	Name() string

	// Open returns a reader for the document contents.
	Open() (io.ReadCloser, error)
}

// Store resolves a model name to a schema document.
//
// Implementations return an error wrapping ErrSchemaNotFound when no
// document is registered for the model.
type Store interface {
	Lookup(model string) (Handle, error)
}

// FSStore serves schema documents from the top level of an fs.FS.
//
// A model resolves to "<model>.json" if that file exists, otherwise to the
// first document whose deviceMapping.id lists the model.
type FSStore struct {
	fsys fs.FS
	root string

	mu    sync.Mutex
	index map[string]string
}

// NewFSStore creates a store over fsys.
func NewFSStore(fsys fs.FS) *FSStore {
	return &FSStore{fsys: fsys}
}

// NewDirStore creates a store over a directory on disk.
func NewDirStore(dir string) *FSStore {
	s := NewFSStore(os.DirFS(dir))
	s.root = dir
	return s
}

var (
	embeddedOnce  sync.Once
	embeddedStore *FSStore
)

// Embedded returns the store holding the built-in schema catalogue.
func Embedded() *FSStore {
	embeddedOnce.Do(func() {
		sub, err := fs.Sub(defaultsFS, "defaults")
		if err != nil {
			// fs.Sub only fails on an invalid literal path.
			panic(err)
		}
		embeddedStore = NewFSStore(sub)
	})
	return embeddedStore
}

// Root returns the on-disk directory, or "" for stores not backed by disk.
func (s *FSStore) Root() string {
	return s.root
}

// Lookup implements Store.
func (s *FSStore) Lookup(model string) (Handle, error) {
	if !validModelName(model) {
		return nil, fmt.Errorf("%w: invalid model name %q", ErrSchemaNotFound, model)
	}

	name := model + documentExt
	_, err := fs.Stat(s.fsys, name)
	switch {
	case err == nil:
		return fsHandle{fsys: s.fsys, name: name}, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s: %w", ErrSchemaIO, name, err)
	}

	index, err := s.modelIndex()
	if err != nil {
		return nil, err
	}
	if file, ok := index[model]; ok {
		return fsHandle{fsys: s.fsys, name: file}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, model)
}

// Reindex discards the model index so the next lookup rescans the store.
func (s *FSStore) Reindex() {
	s.mu.Lock()
	s.index = nil
	s.mu.Unlock()
}

// Models returns every model listed by a document in the store.
func (s *FSStore) Models() ([]string, error) {
	index, err := s.modelIndex()
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(index))
	for m := range index {
		models = append(models, m)
	}
	return models, nil
}

// modelIndex maps every model named inside a document to its file.
func (s *FSStore) modelIndex() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index != nil {
		return s.index, nil
	}

	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.index = map[string]string{}
			return s.index, nil
		}
		return nil, fmt.Errorf("%w: listing documents: %w", ErrSchemaIO, err)
	}

	index := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != documentExt {
			continue
		}
		data, err := fs.ReadFile(s.fsys, e.Name())
		if err != nil {
			continue
		}
		for _, m := range modelsOf(data) {
			if _, dup := index[m]; !dup {
				index[m] = e.Name()
			}
		}
	}
	s.index = index
	return index, nil
}

func validModelName(model string) bool {
	if model == "" || strings.ContainsAny(model, `/\`) || strings.Contains(model, "..") {
		return false
	}
	return fs.ValidPath(model + documentExt)
}

// fsHandle is a Handle for a file in an fs.FS.
type fsHandle struct {
	fsys fs.FS
	name string
}

func (h fsHandle) Name() string { return h.name }

func (h fsHandle) Open() (io.ReadCloser, error) {
	f, err := h.fsys.Open(h.name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ChainStore consults each store in order; the first that knows the model
// wins. Errors other than ErrSchemaNotFound stop the search.
type ChainStore []Store

// Lookup implements Store.
func (c ChainStore) Lookup(model string) (Handle, error) {
	for _, s := range c {
		h, err := s.Lookup(model)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrSchemaNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, model)
}
