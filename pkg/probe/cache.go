package probe

import (
	"bytes"
	"sync"
)

// The probe cache has two tiers, per spec §4.1 "probe cache": a
// per-goroutine most-recently-used slot (cheap, lock-free, catches the
// common case of a client hammering the same body shape back-to-back)
// backed by a process-wide 8-way set-associative cache (sharded by the
// low bits of the sampled hash, bounded so a pathological client can't
// grow it unboundedly).
//
// Go has no goroutine-local storage; sync.Pool is used as the
// practical equivalent the standard library offers — a Get/Put pair
// that tends to stay affine to the calling P, which is close enough to
// "per-thread" for a best-effort fast path that always has a correct
// fallback.
const (
	cacheWays       = 8
	cacheShardCount = 64
	cacheMaxBodyLen = 16 * 1024
)

type cacheEntry struct {
	key    uint64
	body   []byte
	result *Result
}

type cacheShard struct {
	mu      sync.Mutex
	entries [cacheWays]cacheEntry
	next    int // round-robin replacement pointer
}

var shards [cacheShardCount]*cacheShard

func init() {
	for i := range shards {
		shards[i] = &cacheShard{}
	}
}

var mruPool = sync.Pool{
	New: func() any { return new(cacheEntry) },
}

func cacheGet(body []byte) (*Result, bool) {
	if len(body) > cacheMaxBodyLen {
		return nil, false
	}
	h := sampledHash(body)

	if mruAny := mruPool.Get(); mruAny != nil {
		mru := mruAny.(*cacheEntry)
		hit := mru.key == h && bytes.Equal(mru.body, body)
		mruPool.Put(mru)
		if hit {
			return mru.result, true
		}
	}

	shard := shards[h%cacheShardCount]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	for _, e := range shard.entries {
		if e.key == h && bytes.Equal(e.body, body) {
			return e.result, true
		}
	}
	return nil, false
}

func cachePut(body []byte, res *Result) {
	if len(body) > cacheMaxBodyLen {
		return
	}
	h := res.BodyHash
	owned := append([]byte(nil), body...)

	mru := mruPool.Get().(*cacheEntry)
	*mru = cacheEntry{key: h, body: owned, result: res}
	mruPool.Put(mru)

	shard := shards[h%cacheShardCount]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.entries[shard.next] = cacheEntry{key: h, body: owned, result: res}
	shard.next = (shard.next + 1) % cacheWays
}
