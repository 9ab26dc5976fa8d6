package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// FileStore keeps one <id>.json file per persona in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("persona dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create persona dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Load(ctx context.Context, id string) (Persona, error) {
	if err := ctx.Err(); err != nil {
		return Persona{}, err
	}
	path, err := s.path(id)
	if err != nil {
		return Persona{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Persona{}, ErrNotFound
	}
	if err != nil {
		return Persona{}, fmt.Errorf("read persona %s: %w", id, err)
	}
	var p Persona
	if err := json.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

// Save writes to a temp file first. Without Overwrite the temp file is
// hard-linked into place, which fails if the target already exists.
func (s *FileStore) Save(ctx context.Context, p Persona, opts SaveOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(p.ID)
	if err != nil {
		return err
	}
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return ErrExists
		}
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode persona %s: %w", p.ID, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, "."+p.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp persona file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write persona %s: %w", p.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close persona %s: %w", p.ID, err)
	}

	if opts.Overwrite {
		if err := os.Rename(tmpName, path); err != nil {
			return fmt.Errorf("replace persona %s: %w", p.ID, err)
		}
		return nil
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("publish persona %s: %w", p.ID, err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if ValidID(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
