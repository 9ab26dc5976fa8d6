// Package textgen wraps the text-generation backends that write character
// lines and personas.
package textgen

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Generator turns a system and user prompt into text. Implementations
// return an error rather than filler; callers own the fallback policy.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Static replies with canned text. Replies are returned in order and the
// last one repeats; with no replies it echoes the user prompt.
type Static struct {
	Replies []string
	Err     error

	mu    sync.Mutex
	next  int
	calls atomic.Int64
}

func (s *Static) Generate(ctx context.Context, _ string, user string) (string, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Replies) == 0 {
		return strings.TrimSpace(user), nil
	}
	i := min(s.next, len(s.Replies)-1)
	s.next++
	return s.Replies[i], nil
}

// Calls reports how many times Generate ran.
func (s *Static) Calls() int {
	return int(s.calls.Load())
}
