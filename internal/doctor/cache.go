package doctor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedDirectory keeps recently used doctor profiles in memory. Profiles
// carry no booking state, so a short TTL is the only staleness bound.
type CachedDirectory struct {
	next  Directory
	cache *expirable.LRU[uuid.UUID, Doctor]
}

func NewCachedDirectory(next Directory, size int, ttl time.Duration) *CachedDirectory {
	if size <= 0 {
		size = 1024
	}
	return &CachedDirectory{
		next:  next,
		cache: expirable.NewLRU[uuid.UUID, Doctor](size, nil, ttl),
	}
}

func (c *CachedDirectory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if d, ok := c.cache.Get(id); ok {
		return &d, nil
	}

	d, err := c.next.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *d)
	return d, nil
}

func (c *CachedDirectory) Invalidate(id uuid.UUID) {
	c.cache.Remove(id)
}
