package lexicon

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 64

// Cache shares loaded dictionaries between analyzers. Entries are immutable,
// so a cached dictionary can be handed to any number of pipelines.
type Cache struct {
	entries *lru.Cache[string, any]
	logger  *slog.Logger

	// loadMu serializes loads so one path is read at most once at a time.
	loadMu sync.Mutex
}

// NewCache returns a cache holding at most size dictionaries. size <= 0
// selects the default.
func NewCache(size int, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, any](size)
	if err != nil {
		return nil, fmt.Errorf("create dictionary cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{entries: entries, logger: logger}, nil
}

// WordSet returns the stopword set stored at path, loading it on first use.
func (c *Cache) WordSet(path string, ignoreCase bool) (*WordSet, error) {
	key := fmt.Sprintf("stop|%t|%s", ignoreCase, path)
	value, err := c.getOrLoad(key, func() (any, error) {
		return LoadWordSetFile(path, ignoreCase)
	})
	if err != nil {
		return nil, err
	}
	return value.(*WordSet), nil
}

// ConversionTable returns the conversion table at path for direction. An
// empty path selects the builtin table.
func (c *Cache) ConversionTable(path string, direction Direction) (*ConversionTable, error) {
	key := fmt.Sprintf("convert|%s|%s", direction, path)
	value, err := c.getOrLoad(key, func() (any, error) {
		if path == "" {
			return BuiltinConversionTable(direction), nil
		}
		return LoadConversionTableFile(path, direction)
	})
	if err != nil {
		return nil, err
	}
	return value.(*ConversionTable), nil
}

// Len returns the number of cached dictionaries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached dictionary; later lookups reload from disk.
func (c *Cache) Purge() {
	c.entries.Purge()
}

func (c *Cache) getOrLoad(key string, load func() (any, error)) (any, error) {
	if value, ok := c.entries.Get(key); ok {
		return value, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if value, ok := c.entries.Get(key); ok {
		return value, nil
	}

	value, err := load()
	if err != nil {
		c.logger.Warn("dictionary load failed", "key", key, "error", err)
		return nil, err
	}
	c.entries.Add(key, value)
	c.logger.Info("dictionary loaded", "key", key)
	return value, nil
}
