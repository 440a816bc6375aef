package core

import (
	"sync"
)

// BaseConnContext is the per-connection key/value store embedded by the
// transport-specific connection contexts. Middlewares use it to hand values
// (spans, byte counts) to each other.
type BaseConnContext struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewBaseConnContext creates an empty BaseConnContext
func NewBaseConnContext() *BaseConnContext {
	return &BaseConnContext{
		data: make(map[string]interface{}),
	}
}

// Set stores a value
func (c *BaseConnContext) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]interface{})
	}
	c.data[key] = value
}

// Get returns a stored value or nil
func (c *BaseConnContext) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

// GetInt64 returns a stored int64, or 0 when missing or of another type
func (c *BaseConnContext) GetInt64(key string) int64 {
	v, _ := c.Get(key).(int64)
	return v
}

// GetAll returns a copy of every stored value
func (c *BaseConnContext) GetAll() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		result[k] = v
	}
	return result
}

// Delete removes a value
func (c *BaseConnContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}
