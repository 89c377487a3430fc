package storage

import (
	"errors"
	"sync"

	"github.com/dreamware/shufflestore/internal/record"
)

// ErrKeyNotFound is returned when a record is not in the cache
var ErrKeyNotFound = errors.New("key not found")

// CacheStats contains statistics about the cache
type CacheStats struct {
	Epoch   int   // Epoch of the published contents, -1 if none
	Records int   // Number of records
	Bytes   int64 // Total size of all records in bytes
}

// Cache holds the records received for the current epoch.
// Contents are replaced wholesale by Replace; there is no per-record Put,
// so readers never observe a partially published epoch.
// All methods are safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex          // Protects data and epoch
	data  map[record.Key][]byte // Records of the published epoch
	epoch int                   // Epoch of data, -1 before the first publish
	bytes int64                 // Summed length of data
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{
		data:  make(map[record.Key][]byte),
		epoch: -1,
	}
}

// Get retrieves a record by key
// Returns a reference to the cached bytes; the caller must not modify it
// or retain it past the next Replace.
func (c *Cache) Get(key record.Key) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, exists := c.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// Replace publishes data as the contents for epoch, discarding the
// previous epoch's records. The cache takes ownership of data.
func (c *Cache) Replace(epoch int, data map[record.Key][]byte) {
	var total int64
	for _, v := range data {
		total += int64(len(v))
	}
	if data == nil {
		data = make(map[record.Key][]byte)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.epoch = epoch
	c.bytes = total
}

// Reset empties the cache
func (c *Cache) Reset() {
	c.Replace(-1, nil)
}

// Epoch returns the epoch of the published contents, or -1
func (c *Cache) Epoch() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Len returns the number of cached records
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Bytes returns the summed length of cached records
func (c *Cache) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}

// Keys returns all cached keys in ascending order
func (c *Cache) Keys() []record.Key {
	c.mu.RLock()
	keys := make([]record.Key, 0, len(c.data))
	for key := range c.data {
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	record.Sort(keys)
	return keys
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Epoch:   c.epoch,
		Records: len(c.data),
		Bytes:   c.bytes,
	}
}
