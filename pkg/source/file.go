// Package source reads and writes the backlog document on disk.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/workitems/backlog/pkg/engine"
)

const filePerms = 0o644

// FileSource loads a backlog document from a JSON or YAML file.
// It implements engine.RecordSource.
type FileSource struct {
	Path string
}

// NewFileSource returns a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

var _ engine.RecordSource = (*FileSource)(nil)

// Load reads and decodes the document without normalizing it.
func (s *FileSource) Load(ctx context.Context) (engine.RawDocument, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Decode(s.Path, data)
}

// ReadCanonical returns the bytes currently on disk. A missing file is
// reported as exists == false with a nil error.
func (s *FileSource) ReadCanonical(ctx context.Context) (data []byte, exists bool, err error) {
	data, err = s.read()
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Persist atomically replaces the document with data, creating parent
// directories as needed.
func (s *FileSource) Persist(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return Persist(s.Path, data)
}

func (s *FileSource) read() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, engine.NewPermanentError("backlog document not found", err).
				WithCode(engine.ErrCodeNotFound).
				WithResource(s.Path).
				WithOperation("load")
		}
		return nil, engine.NewTransientError("failed to read backlog document", err).
			WithResource(s.Path).
			WithOperation("load")
	}
	return data, nil
}

// Decode parses data as YAML when the name has a .yaml/.yml extension and
// as JSON otherwise. The top level must be a mapping.
func Decode(name string, data []byte) (engine.RawDocument, error) {
	var raw map[string]interface{}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, decodeError(name, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil {
			return nil, decodeError(name, err)
		}
		if dec.More() {
			return nil, decodeError(name, fmt.Errorf("unexpected data after top-level object"))
		}
	}

	if raw == nil {
		// An empty YAML file or a literal null decodes to an empty document.
		raw = map[string]interface{}{}
	}
	return engine.RawDocument(raw), nil
}

func decodeError(name string, err error) error {
	return engine.NewPermanentError("failed to decode backlog document", err).
		WithCode(engine.ErrCodeDecode).
		WithResource(name).
		WithOperation("decode")
}

// Persist atomically writes data to path: the content goes to a temporary
// file in the same directory which is then renamed over path.
func Persist(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	// atomic.WriteFile doesn't set permissions for new files
	if err := os.Chmod(path, filePerms); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return nil
}
