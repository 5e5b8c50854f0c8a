package mem

import (
	"sync"
	"time"
)

// TenantRefStore remembers which tenant owns a charge reference, so repeated
// webhooks for the same charge skip the tenant scan.
type TenantRefStore interface {
	Set(chargeRef string, tenantID string, ttl time.Duration)

	// Peek returns the tenant for chargeRef if present and not expired.
	Peek(chargeRef string) (string, bool)

	Forget(chargeRef string)
}

// sweepInterval bounds how often Set walks the map for expired entries.
const sweepInterval = 10 * time.Minute

type entry struct {
	tenantID  string
	expiresAt time.Time
}

type TenantRefs struct {
	mu        sync.RWMutex
	data      map[string]entry
	now       func() time.Time
	nextSweep time.Time
}

func NewTenantRefs() *TenantRefs {
	return &TenantRefs{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (s *TenantRefs) Set(chargeRef string, tenantID string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !now.Before(s.nextSweep) {
		for k, e := range s.data {
			if now.After(e.expiresAt) {
				delete(s.data, k)
			}
		}
		s.nextSweep = now.Add(sweepInterval)
	}
	s.data[chargeRef] = entry{
		tenantID:  tenantID,
		expiresAt: now.Add(ttl),
	}
}

func (s *TenantRefs) Peek(chargeRef string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[chargeRef]
	if !ok || s.now().After(e.expiresAt) {
		return "", false
	}
	return e.tenantID, true
}

func (s *TenantRefs) Forget(chargeRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, chargeRef)
}
