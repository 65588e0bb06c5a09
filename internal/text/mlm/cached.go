package mlm

import (
	"context"

	"github.com/msto63/mediaprep/pkg/core/cache"
)

// Filler is anything that predicts the word behind a [MASK] token
type Filler interface {
	FillMask(ctx context.Context, masked string) (string, error)
}

// CachedFiller memoizes predictions per masked sentence. The client asks
// the model with temperature 0, so a repeated prompt yields the same word.
type CachedFiller struct {
	next  Filler
	cache *cache.Cache[string]
}

// NewCachedFiller wraps next with a cache configured by cfg
func NewCachedFiller(next Filler, cfg cache.Config) *CachedFiller {
	return &CachedFiller{next: next, cache: cache.New[string](cfg)}
}

// FillMask returns the cached prediction or asks the wrapped filler
func (f *CachedFiller) FillMask(ctx context.Context, masked string) (string, error) {
	return f.cache.GetOrLoad(masked, func() (string, error) {
		return f.next.FillMask(ctx, masked)
	})
}

// Stats reports cache usage
func (f *CachedFiller) Stats() cache.Stats {
	return f.cache.Stats()
}
