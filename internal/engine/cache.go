package engine

import (
	"sync"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
)

// templateCache is a read-through cache of active workflow templates per
// company. Expiry runs off the injected clock; there is no background
// eviction, stale entries are replaced on access.
type templateCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	entries map[int64]templateCacheEntry
}

type templateCacheEntry struct {
	workflows []*models.Workflow
	expiresAt time.Time
}

func newTemplateCache(ttl time.Duration, clock Clock) *templateCache {
	return &templateCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[int64]templateCacheEntry),
	}
}

func (c *templateCache) get(companyID int64, load func() ([]*models.Workflow, error)) ([]*models.Workflow, error) {
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.entries[companyID]
	c.mu.Unlock()

	if ok && now.Before(entry.expiresAt) {
		return entry.workflows, nil
	}

	workflows, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[companyID] = templateCacheEntry{
		workflows: workflows,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	return workflows, nil
}

// invalidate drops a company's cached templates. Called when templates are
// edited out of band.
func (c *templateCache) invalidate(companyID int64) {
	c.mu.Lock()
	delete(c.entries, companyID)
	c.mu.Unlock()
}
