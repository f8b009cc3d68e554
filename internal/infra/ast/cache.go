package ast

import (
	"context"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// CachedExtractor memoizes successful extractions keyed by mode plus path,
// mtime and size. Repeated runs over an unchanged project (the normal case
// in serve mode) skip the subprocess entirely. Failed documents are not
// cached; a flaky analyzer gets retried on the next pass.
type CachedExtractor struct {
	inner domain.AstExtractor
	cache *lru.Cache[string, domain.AstDocument]
}

func NewCachedExtractor(inner domain.AstExtractor, size int) (*CachedExtractor, error) {
	if size <= 0 {
		size = 512
	}
	c, err := lru.New[string, domain.AstDocument](size)
	if err != nil {
		return nil, err
	}
	return &CachedExtractor{inner: inner, cache: c}, nil
}

func (e *CachedExtractor) Extract(ctx context.Context, path string, mode domain.Mode) domain.AstDocument {
	key := cacheKey(path, mode)
	if doc, ok := e.cache.Get(key); ok {
		return doc
	}
	doc := e.inner.Extract(ctx, path, mode)
	if !doc.Failed {
		e.cache.Add(key, doc)
	}
	return doc
}

func cacheKey(path string, mode domain.Mode) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("%s|%s", mode, path)
	}
	return fmt.Sprintf("%s|%s|%d|%d", mode, path, info.ModTime().UnixNano(), info.Size())
}
