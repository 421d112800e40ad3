package cache

import (
	"time"

	cache_pkg "github.com/patrickmn/go-cache"
)

const (
	// DefaultExpiration is how long loaded documents stay cached
	DefaultExpiration = 5 * time.Minute
	cleanupInterval   = 10 * time.Minute
)

// Handler caches loaded configuration documents keyed by source path
type Handler struct {
	client *cache_pkg.Cache
}

func New() (*Handler, error) {
	return NewWithExpiration(DefaultExpiration)
}

// NewWithExpiration creates a cache whose entries expire after ttl
func NewWithExpiration(ttl time.Duration) (*Handler, error) {
	client := cache_pkg.New(ttl, cleanupInterval)
	return &Handler{
		client: client,
	}, nil
}

// Get returns the cached entry for key
func (h *Handler) Get(key string) (interface{}, bool) {
	if h == nil {
		return nil, false
	}
	return h.client.Get(key)
}

// Set stores v under key with the default expiration
func (h *Handler) Set(key string, v interface{}) {
	if h == nil {
		return
	}
	h.client.SetDefault(key, v)
}

// Delete drops key
func (h *Handler) Delete(key string) {
	if h == nil {
		return
	}
	h.client.Delete(key)
}

func (h *Handler) Ping() (bool, error) {
	return true, nil
}
