package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrInvalidRef = errors.New("invalid template reference")

// Loader reads templates from a directory and caches them until the file changes.
type Loader struct {
	dir    string
	schema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*Template
}

func NewLoader(dir string) (*Loader, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Loader{dir: dir, schema: schema, cache: map[string]*Template{}}, nil
}

// Load returns the template stored as ref inside the loader's directory.
// The returned value is shared and must not be modified.
func (l *Loader) Load(ref string) (*Template, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}

	l.mu.RLock()
	tpl, ok := l.cache[ref]
	l.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	data, err := os.ReadFile(filepath.Join(l.dir, ref))
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", ref, err)
	}
	tpl, err = l.parse(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", ref, err)
	}

	l.mu.Lock()
	l.cache[ref] = tpl
	l.mu.Unlock()
	log.Debug().Str("template", ref).Msg("Template loaded")
	return tpl, nil
}

func (l *Loader) parse(data []byte) (*Template, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := l.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	var tpl Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	tpl.applyDefaults()
	return &tpl, nil
}

// Invalidate drops a cached template so the next Load rereads it.
func (l *Loader) Invalidate(ref string) {
	l.mu.Lock()
	delete(l.cache, ref)
	l.mu.Unlock()
}

// Watch invalidates cached templates whenever their files change. It returns
// once the watcher is running; the watcher stops with ctx.
func (l *Loader) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create template watcher: %w", err)
	}
	if err := fsw.Add(l.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch template directory %s: %w", l.dir, err)
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				ref := filepath.Base(ev.Name)
				l.Invalidate(ref)
				log.Info().Str("template", ref).Str("op", ev.Op.String()).Msg("Template changed, cache invalidated")
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Template watcher error")
			}
		}
	}()
	return nil
}
