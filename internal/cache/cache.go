// Пакет cache — in-memory кэш с TTL для справочных данных аутентификации
// (домены AD, политики системы). Обёртка над hashicorp/golang-lru/v2/expirable
// с дедупликацией загрузки через singleflight.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// Prometheus-метрики кэшей.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_cache_hits_total",
		Help: "Общее количество попаданий в кэш.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_cache_misses_total",
		Help: "Общее количество промахов кэша.",
	}, []string{"cache"})
)

// Cache — кэш с ограниченным временем жизни записей.
// Реализации безопасны для конкурентного использования.
type Cache[K comparable, V any] interface {
	// Get возвращает значение и признак попадания.
	Get(key K) (V, bool)
	// Set добавляет или обновляет запись.
	Set(key K, value V)
	// Delete удаляет запись.
	Delete(key K)
	// GetOrLoad возвращает значение из кэша, при промахе вызывает load.
	// Параллельные промахи по одному ключу выполняют load один раз.
	// Ошибки load не кэшируются.
	GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error)) (V, error)
}

// TTL — LRU-кэш с автоматическим истечением записей.
type TTL[K comparable, V any] struct {
	lru   *expirable.LRU[K, V]
	group singleflight.Group

	// mu защищает gen: Delete увеличивает поколение, и загрузка,
	// начатая до инвалидации, не записывает результат в кэш.
	mu  sync.Mutex
	gen uint64

	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewTTL создаёт кэш с именем name (метка метрик), максимальным размером
// maxSize и временем жизни записи ttl.
func NewTTL[K comparable, V any](name string, maxSize int, ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		lru:    expirable.NewLRU[K, V](maxSize, nil, ttl),
		hits:   cacheHitsTotal.WithLabelValues(name),
		misses: cacheMissesTotal.WithLabelValues(name),
	}
}

// Get возвращает значение из кэша. Обновляет метрики hit/miss.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	val, ok := c.lru.Get(key)
	if ok {
		c.hits.Inc()
		return val, true
	}
	c.misses.Inc()
	return val, false
}

// Set добавляет или обновляет запись.
func (c *TTL[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Delete удаляет запись (инвалидация после изменения данных).
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	c.gen++
	c.lru.Remove(key)
	c.mu.Unlock()
	c.group.Forget(fmt.Sprint(key))
}

// GetOrLoad возвращает значение из кэша или загружает его.
// Загрузка выполняется без отмены контекста вызывающего: отключение
// одного клиента не должно прерывать ожидающих того же ключа.
func (c *TTL[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error)) (V, error) {
	if val, ok := c.Get(key); ok {
		return val, nil
	}

	res, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		if val, ok := c.lru.Peek(key); ok {
			return val, nil
		}
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		val, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.lru.Add(key, val)
		}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}
