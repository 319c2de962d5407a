package tokens

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"pubarmour/internal/pkg/random"
)

const tokenBytes = 48

// Burn failure reasons, surfaced to the client only inside the generic kick
// payload.
const (
	ReasonInvalid        = "invalid_token"
	ReasonAlreadyUsed    = "token_already_used"
	ReasonExpired        = "token_expired"
	ReasonDeviceMismatch = "hwid_mismatch"
)

type token struct {
	scriptName string
	deviceID   string
	origin     string
	born       time.Time
	consumed   bool
}

type BurnResult struct {
	OK         bool
	ScriptName string
	Reason     string
}

// Broker mints and burns the single-use exchange tokens that separate
// "prove you may receive the script" from "receive the script". Consumed
// tokens are kept as tombstones until the sweep so a replayed burn is
// reported as already-used rather than unknown.
type Broker struct {
	mu     sync.Mutex
	tokens map[string]*token
	ttl    time.Duration
	grace  time.Duration
	now    func() time.Time
}

func NewBroker(ttl, grace time.Duration) *Broker {
	return &Broker{
		tokens: make(map[string]*token),
		ttl:    ttl,
		grace:  grace,
		now:    time.Now,
	}
}

func (b *Broker) Mint(scriptName, deviceID, origin string) string {
	id := random.Hex(tokenBytes)

	b.mu.Lock()
	b.tokens[id] = &token{
		scriptName: scriptName,
		deviceID:   deviceID,
		origin:     origin,
		born:       b.now(),
	}
	b.mu.Unlock()

	return id
}

func (b *Broker) Burn(id, deviceID, origin string) BurnResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tokens[id]
	if !ok {
		return BurnResult{Reason: ReasonInvalid}
	}
	if t.consumed {
		return BurnResult{Reason: ReasonAlreadyUsed}
	}
	if b.now().Sub(t.born) > b.ttl {
		delete(b.tokens, id)
		return BurnResult{Reason: ReasonExpired}
	}
	if t.deviceID != deviceID {
		return BurnResult{Reason: ReasonDeviceMismatch}
	}

	// A changed network prefix is tolerated (mobile clients hop addresses)
	// but worth flagging.
	if networkPrefix(t.origin) != networkPrefix(origin) {
		log.Warn().Str("minted", t.origin).Str("burned", origin).Msg("token origin subnet changed")
	}

	t.consumed = true
	return BurnResult{OK: true, ScriptName: t.scriptName}
}

// Sweep purges tokens past TTL plus grace, consumed or not, and returns how
// many were removed.
func (b *Broker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for id, t := range b.tokens {
		if now.Sub(t.born) > b.ttl+b.grace {
			delete(b.tokens, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on a timer until stop is closed.
func (b *Broker) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("token sweep")
			}
		case <-stop:
			return
		}
	}
}

// networkPrefix reduces an IPv4 address to its first three octets. Non-IPv4
// origins compare whole.
func networkPrefix(addr string) string {
	parts := strings.Split(addr, ".")
	if len(parts) < 4 {
		return addr
	}
	return strings.Join(parts[:3], ".")
}
