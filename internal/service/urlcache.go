// urlcache.go — кэш presigned URL содержимого версий.
// Обёртка над hashicorp/golang-lru/v2/expirable. Версии неизменяемы,
// поэтому ключом служит location: кэш не может выдать чужое содержимое.
// Запись живёт половину срока действия ссылки, так что выданная из кэша
// ссылка действительна ещё не меньше половины TTL.
package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/document-module/internal/blobstore"
)

// Prometheus-метрики кэша.
var (
	urlCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_url_cache_hits_total",
		Help: "Общее количество попаданий в кэш presigned URL.",
	})
	urlCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_url_cache_misses_total",
		Help: "Общее количество промахов кэша presigned URL.",
	})
)

// PresignedURL — ссылка на содержимое и момент её истечения.
type PresignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// URLCache — LRU-кэш presigned URL с автоматическим TTL.
type URLCache struct {
	store blobstore.Store
	cache *expirable.LRU[string, PresignedURL]
	ttl   time.Duration
	now   func() time.Time
}

// NewURLCache создаёт кэш на maxSize ссылок со сроком действия ttl.
func NewURLCache(store blobstore.Store, maxSize int, ttl time.Duration) *URLCache {
	return &URLCache{
		store: store,
		cache: expirable.NewLRU[string, PresignedURL](maxSize, nil, ttl/2),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get возвращает ссылку на содержимое location из кэша или подписывает новую.
func (c *URLCache) Get(ctx context.Context, location string) (PresignedURL, error) {
	if u, ok := c.cache.Get(location); ok {
		urlCacheHitsTotal.Inc()
		return u, nil
	}
	urlCacheMissesTotal.Inc()

	issued := c.now()
	raw, err := c.store.PresignedURL(ctx, location, c.ttl)
	if err != nil {
		return PresignedURL{}, err
	}
	u := PresignedURL{URL: raw, ExpiresAt: issued.Add(c.ttl).UTC()}
	c.cache.Add(location, u)
	return u, nil
}

// Invalidate удаляет ссылки на содержимое (после удаления документа).
func (c *URLCache) Invalidate(locations ...string) {
	for _, loc := range locations {
		c.cache.Remove(loc)
	}
}
