package persona

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	ErrNotFound  = errors.New("persona not found")
	ErrExists    = errors.New("persona already exists")
	ErrInvalid   = errors.New("invalid persona id")
	ErrMalformed = errors.New("malformed persona record")
)

// SaveOptions controls Save. Without Overwrite an existing record is never
// replaced.
type SaveOptions struct {
	Overwrite bool
}

// Store persists personas. Load returns ErrNotFound for unknown ids and Save
// returns ErrExists when the id is taken and Overwrite is false.
type Store interface {
	Load(ctx context.Context, id string) (Persona, error)
	Save(ctx context.Context, p Persona, opts SaveOptions) error
	List(ctx context.Context) ([]string, error)
}

// MemoryStore keeps personas in process. The zero value is ready to use.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Persona
	saves int
}

func NewMemoryStore(seed ...Persona) *MemoryStore {
	s := &MemoryStore{items: make(map[string]Persona, len(seed))}
	for _, p := range seed {
		s.items[p.ID] = p
	}
	return s
}

func (s *MemoryStore) Load(ctx context.Context, id string) (Persona, error) {
	if err := ctx.Err(); err != nil {
		return Persona{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return Persona{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Save(ctx context.Context, p Persona, opts SaveOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidID(p.ID) {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = map[string]Persona{}
	}
	if _, ok := s.items[p.ID]; ok && !opts.Overwrite {
		return ErrExists
	}
	s.items[p.ID] = p
	s.saves++
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Saves reports how many writes succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
