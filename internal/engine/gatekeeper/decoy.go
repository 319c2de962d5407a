package gatekeeper

import "sync"

// DefaultDecoyPaths are route prefixes that look like plausible script
// hosting locations. They exist only to trap automated probing; hitting one
// bans the source for the process lifetime.
var DefaultDecoyPaths = []string{
	"scripts", "script", "lua", "raw", "src", "source", "get", "files",
}

// Banlist is the one-way ratchet of sources caught probing. Membership never
// expires; a restart clears it, which is acceptable for abuse mitigation.
type Banlist struct {
	mu      sync.RWMutex
	sources map[string]struct{}
}

func NewBanlist() *Banlist {
	return &Banlist{sources: make(map[string]struct{})}
}

func (b *Banlist) Ban(sourceID string) {
	b.mu.Lock()
	b.sources[sourceID] = struct{}{}
	b.mu.Unlock()
}

func (b *Banlist) Banned(sourceID string) bool {
	b.mu.RLock()
	_, ok := b.sources[sourceID]
	b.mu.RUnlock()
	return ok
}
