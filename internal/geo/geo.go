package geo

import (
	"sync"
	"time"
)

// Info holds the subset of geographic data stamped onto events.
type Info struct {
	Country     string
	CountryCode string
	City        string
	Timezone    string
}

// Provider resolves an IP address to geographic information.
type Provider interface {
	Lookup(ip string) (*Info, error)
	Close() error
}

// CachingProvider wraps a Provider with a TTL cache so hot IPs do not
// hit the database file on every event.
type CachingProvider struct {
	inner   Provider
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	info      *Info
	expiresAt time.Time
}

// NewCachingProvider wraps the provider with a cache of at most maxSize
// entries.
func NewCachingProvider(inner Provider, maxSize int, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		inner:   inner,
		data:    make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (p *CachingProvider) Lookup(ip string) (*Info, error) {
	p.mu.RLock()
	entry, ok := p.data[ip]
	p.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.info, nil
	}

	info, err := p.inner.Lookup(ip)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if len(p.data) >= p.maxSize {
		// Full cache: drop everything rather than track LRU order.
		p.data = make(map[string]*cacheEntry)
	}
	p.data[ip] = &cacheEntry{info: info, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return info, nil
}

func (p *CachingProvider) Close() error {
	return p.inner.Close()
}
