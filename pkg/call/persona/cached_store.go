package persona

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore is a read-through LRU in front of another Store.
type CachedStore struct {
	next  Store
	cache *lru.Cache[string, Persona]
}

func NewCachedStore(next Store, size int) (*CachedStore, error) {
	if size <= 0 {
		return nil, fmt.Errorf("persona cache size must be > 0, got %d", size)
	}
	cache, err := lru.New[string, Persona](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, cache: cache}, nil
}

func (s *CachedStore) Load(ctx context.Context, id string) (Persona, error) {
	if p, ok := s.cache.Get(id); ok {
		return p, nil
	}
	p, err := s.next.Load(ctx, id)
	if err != nil {
		return Persona{}, err
	}
	s.cache.Add(id, p)
	return p, nil
}

func (s *CachedStore) Save(ctx context.Context, p Persona, opts SaveOptions) error {
	if err := s.next.Save(ctx, p, opts); err != nil {
		return err
	}
	s.cache.Add(p.ID, p)
	return nil
}

func (s *CachedStore) List(ctx context.Context) ([]string, error) {
	return s.next.List(ctx)
}

// Purge drops every cached entry.
func (s *CachedStore) Purge() {
	s.cache.Purge()
}
