package spam

import (
	"strings"
	"sync"
)

// Blacklist is a mutable set of blocked sender domains. It is
// instance-scoped and injected into the scorer, so deployments can swap
// the backing store and tests can run in isolation. Changes are
// process-local unless persisted by the configuration service.
type Blacklist struct {
	mu      sync.RWMutex
	domains map[string]struct{}
}

// NewBlacklist creates a blacklist seeded with the given domains
func NewBlacklist(domains ...string) *Blacklist {
	b := &Blacklist{domains: make(map[string]struct{})}
	for _, domain := range domains {
		b.Add(domain)
	}
	return b
}

// Add inserts a domain into the blacklist
func (b *Blacklist) Add(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.domains[domain] = struct{}{}
}

// Remove deletes a domain from the blacklist
func (b *Blacklist) Remove(domain string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.domains, domain)
}

// Contains reports whether the domain is blacklisted
func (b *Blacklist) Contains(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.domains[domain]
	return ok
}

// Entries returns a snapshot of the blacklisted domains
func (b *Blacklist) Entries() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := make([]string, 0, len(b.domains))
	for domain := range b.domains {
		entries = append(entries, domain)
	}
	return entries
}
