package upstream

import (
	"strings"
	"sync"
)

// CredentialPool hands out API tokens round-robin.
// It is shared by concurrent group workers.
type CredentialPool struct {
	mu    sync.Mutex
	creds []string
	idx   int
}

// NewCredentialPool drops blank and duplicate tokens, keeping the first occurrence order.
func NewCredentialPool(creds []string) *CredentialPool {
	seen := make(map[string]struct{}, len(creds))
	out := make([]string, 0, len(creds))
	for _, c := range creds {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return &CredentialPool{creds: out}
}

// Current returns the active credential, or "" for an empty pool.
func (p *CredentialPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return ""
	}
	return p.creds[p.idx]
}

// Rotate advances to the next credential and returns it.
func (p *CredentialPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return ""
	}
	p.idx = (p.idx + 1) % len(p.creds)
	rotations.Inc()
	return p.creds[p.idx]
}

// Len reports how many credentials the pool holds.
func (p *CredentialPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Replace swaps the credential set, e.g. after a config reload.
// The index restarts at the first credential.
func (p *CredentialPool) Replace(creds []string) {
	next := NewCredentialPool(creds)
	p.mu.Lock()
	p.creds = next.creds
	p.idx = 0
	p.mu.Unlock()
}
