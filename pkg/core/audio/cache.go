// Package audio holds synthesized clips in memory until the player fetches
// them.
package audio

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPathPrefix is where the gateway serves clips.
const DefaultPathPrefix = "/v1/audio/"

// Clip is one synthesized line.
type Clip struct {
	ID          string
	Speaker     string
	ContentType string
	Data        []byte
}

// Cache is a bounded LRU of clips. Evicted clips are simply gone; the plan
// transcript still carries the text.
type Cache struct {
	prefix string
	clips  *lru.Cache[string, Clip]
}

func NewCache(size int, prefix string) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("audio cache size must be > 0, got %d", size)
	}
	clips, err := lru.New[string, Clip](size)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultPathPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Cache{prefix: prefix, clips: clips}, nil
}

// Put stores data and returns the reference the player should fetch.
func (c *Cache) Put(speaker, contentType string, data []byte) string {
	id := uuid.NewString()
	c.clips.Add(id, Clip{ID: id, Speaker: speaker, ContentType: contentType, Data: data})
	return c.prefix + id
}

// Get looks a clip up by id.
func (c *Cache) Get(id string) (Clip, bool) {
	return c.clips.Get(id)
}

// Len reports how many clips are held.
func (c *Cache) Len() int {
	return c.clips.Len()
}
