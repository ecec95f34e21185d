package schema

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Logger is the logging interface used by the loader.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Loader resolves model names to parsed schemas and caches the result.
type Loader struct {
	store Store

	mu    sync.RWMutex
	cache map[string]cacheEntry

	logger   Logger
	loggerMu sync.RWMutex
}

type cacheEntry struct {
	schema *DeviceSchema
	source string
}

// NewLoader creates a loader over store.
func NewLoader(store Store) *Loader {
	return &Loader{
		store: store,
		cache: make(map[string]cacheEntry),
	}
}

// SetLogger sets the logger for watch diagnostics.
func (l *Loader) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *Loader) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// Load returns the schema for model.
//
// An empty model is rejected without consulting the store.
//
// Returns:
//   - *DeviceSchema: shared, read-only schema
//   - error: wrapping ErrSchemaNotFound, ErrSchemaIO or ErrSchemaParse
func (l *Loader) Load(model string) (*DeviceSchema, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("%w: empty model name", ErrSchemaNotFound)
	}

	l.mu.RLock()
	entry, ok := l.cache[model]
	l.mu.RUnlock()
	if ok {
		return entry.schema, nil
	}

	h, err := l.store.Lookup(model)
	if err != nil {
		return nil, err
	}

	rc, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchemaIO, h.Name(), err)
	}
	data, err := io.ReadAll(rc)
	rc.Close() //nolint:errcheck // read-only handle
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchemaIO, h.Name(), err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Name(), err)
	}

	l.mu.Lock()
	l.cache[model] = cacheEntry{schema: s, source: h.Name()}
	l.mu.Unlock()

	return s, nil
}

// Invalidate drops cached schemas for the given models, or every cached
// schema when called without arguments.
func (l *Loader) Invalidate(models ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(models) == 0 {
		l.cache = make(map[string]cacheEntry)
		return
	}
	for _, m := range models {
		delete(l.cache, m)
	}
}

// invalidateSource drops cache entries loaded from the named document, plus
// the model the file name implies, and returns the affected models.
func (l *Loader) invalidateSource(name string) []string {
	stem := strings.TrimSuffix(name, documentExt)

	l.mu.Lock()
	defer l.mu.Unlock()

	var affected []string
	for model, entry := range l.cache {
		if entry.source == name || model == stem {
			delete(l.cache, model)
			affected = append(affected, model)
		}
	}
	return affected
}

// Watch invalidates cached schemas when documents in dir change, calling
// onChange with the models whose cached schema was dropped. It blocks until
// ctx is cancelled.
//
// reindex, when non-nil, is called on every change so stores can rebuild
// their model index.
func (l *Loader) Watch(ctx context.Context, dir string, reindex func(), onChange func(models []string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating schema watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != documentExt {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if reindex != nil {
				reindex()
			}
			affected := l.invalidateSource(filepath.Base(ev.Name))
			if logger := l.getLogger(); logger != nil {
				logger.Info("schema document changed",
					"file", ev.Name,
					"op", ev.Op.String(),
					"models", affected,
				)
			}
			if len(affected) > 0 && onChange != nil {
				onChange(affected)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if logger := l.getLogger(); logger != nil {
				logger.Warn("schema watcher error", "error", err)
			}
		}
	}
}
