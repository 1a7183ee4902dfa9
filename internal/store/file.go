package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"autoconf/pkg/logging"
)

// FileStore keeps each record as a YAML file in a directory:
//
//	id: ports.6c1f...
//	target: ports
//	scope: edge
//	properties:
//	  port: 8080
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

type fileRecord struct {
	ID         string         `yaml:"id"`
	Target     string         `yaml:"target"`
	Scope      string         `yaml:"scope,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Create(ctx context.Context, target, scope string, isTemplate bool) (Record, error) {
	if target == "" {
		return Record{}, fmt.Errorf("target cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewRecordID(target, isTemplate)
	if existing, err := s.read(id); err == nil {
		return Record{ID: existing.ID, Target: existing.Target, Scope: existing.Scope}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Record{}, err
	}

	fr := fileRecord{ID: id, Target: target, Scope: scope}
	if err := s.write(fr); err != nil {
		return Record{}, err
	}
	return Record{ID: id, Target: target, Scope: scope}, nil
}

func (s *FileStore) Update(ctx context.Context, rec Record, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fr, err := s.read(rec.ID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
		}
		return err
	}
	fr.Properties = cloneProps(props)
	return s.write(fr)
}

func (s *FileStore) Delete(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(rec.ID)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
		}
		return fmt.Errorf("%w: failed to delete %s: %v", ErrUnavailable, path, err)
	}

	logging.Debug("FileStore", "Deleted record %s from %s", rec.ID, path)
	return nil
}

// List returns all records ordered by ID. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(s.dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob yaml files: %w", err)
	}

	out := make([]Snapshot, 0, len(files))
	for _, file := range files {
		fr, err := readFileRecord(file)
		if err != nil {
			logging.Warn("FileStore", "Skipping unreadable record file %s: %v", file, err)
			continue
		}
		out = append(out, Snapshot{
			Record:     Record{ID: fr.ID, Target: fr.Target, Scope: fr.Scope},
			Properties: fr.Properties,
		})
	}
	sortSnapshots(out)
	return out, nil
}

func (s *FileStore) read(id string) (fileRecord, error) {
	return readFileRecord(s.path(id))
}

func readFileRecord(path string) (fileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileRecord{}, err
		}
		return fileRecord{}, fmt.Errorf("%w: failed to read %s: %v", ErrUnavailable, path, err)
	}

	var fr fileRecord
	if err := yaml.Unmarshal(data, &fr); err != nil {
		return fileRecord{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return fr, nil
}

func (s *FileStore) write(fr fileRecord) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrUnavailable, s.dir, err)
	}

	data, err := yaml.Marshal(fr)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", fr.ID, err)
	}

	path := s.path(fr.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrUnavailable, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to replace %s: %v", ErrUnavailable, path, err)
	}

	logging.Debug("FileStore", "Saved record %s to %s", fr.ID, path)
	return nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, sanitizeFilename(id)+".yaml")
}

// sanitizeFilename ensures the filename is safe for filesystem operations.
// Dots are kept since record IDs use them as separators.
func sanitizeFilename(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)

	sanitized = strings.Trim(sanitized, "._")
	if sanitized == "" {
		sanitized = "unnamed"
	}
	return sanitized
}
