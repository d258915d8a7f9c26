// Package ratelimit provides per-key token bucket rate limiting for the
// HTTP layer: per-IP on /register, per-client on signaling operations
// (spec §5). Adapted from atvirokodosprendimai-wgmesh's pkg/ratelimit
// IPRateLimiter, swapping the hand-rolled bucket for golang.org/x/time/rate
// and keeping its LRU-bounded keyspace so an attacker spraying distinct
// keys can't grow this map without bound.
package ratelimit

import (
	"container/list"
	"sync"

	"golang.org/x/time/rate"
)

const DefaultMaxKeys = 8192

type entry struct {
	key     string
	limiter *rate.Limiter
}

// KeyedLimiter rate-limits by an arbitrary string key (source IP or
// client_id), each with its own token bucket, evicting the
// least-recently-used key once maxKeys is reached.
type KeyedLimiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	maxKeys int
	index   map[string]*list.Element
	lru     *list.List
}

// New constructs a limiter allowing r events per second per key, with
// burst headroom, bounding tracked keys to maxKeys (0 uses DefaultMaxKeys).
func New(r rate.Limit, burst int, maxKeys int) *KeyedLimiter {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &KeyedLimiter{
		rate:    r,
		burst:   burst,
		maxKeys: maxKeys,
		index:   make(map[string]*list.Element, maxKeys),
		lru:     list.New(),
	}
}

// Allow reports whether an event for key may proceed, consuming a token if
// so.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	lim := k.getOrCreateLocked(key)
	k.mu.Unlock()
	return lim.Allow()
}

func (k *KeyedLimiter) getOrCreateLocked(key string) *rate.Limiter {
	if elem, ok := k.index[key]; ok {
		k.lru.MoveToFront(elem)
		return elem.Value.(*entry).limiter
	}

	if k.lru.Len() >= k.maxKeys {
		oldest := k.lru.Back()
		if oldest != nil {
			k.lru.Remove(oldest)
			delete(k.index, oldest.Value.(*entry).key)
		}
	}

	lim := rate.NewLimiter(k.rate, k.burst)
	elem := k.lru.PushFront(&entry{key: key, limiter: lim})
	k.index[key] = elem
	return lim
}
